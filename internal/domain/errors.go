package domain

import "errors"

var (
	ErrReportNotFound         = errors.New("report not found")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrInvalidReportID        = errors.New("invalid report id")
	ErrCoalescerStopped       = errors.New("detail fetch coalescer stopped")
)
