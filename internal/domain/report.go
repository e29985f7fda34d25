package domain

import (
	"slices"
	"time"
)

// One entry in a source token's upload listing
type UploadSummary struct {
	ReportID      string
	Permalink     string
	UploadedAt    time.Time
	EncounterTime time.Time

	BossName     string
	Success      bool
	Duration     time.Duration
	CompositeDPS float64

	// Raw provider JSON for this upload
	Metadata []byte
}

type UploadPage struct {
	Uploads []UploadSummary

	// 1-based
	Page       int
	TotalPages int
	UserToken  string
}

func (p UploadPage) HasMorePages() bool {
	return p.Page < p.TotalPages
}

// Full parsed detail for one report. Owned by whoever received it, never cached by the fetch path.
type ReportDetail struct {
	ReportID string

	BossName string
	BossID   int
	IsCM     bool

	Success      bool
	StartedAt    time.Time
	Duration     time.Duration
	CompositeDPS float64

	// Sorted, unique display names of the squad
	Players []string

	// Raw provider JSON document
	Raw []byte
}

// Deep copy, for handing one stored detail to several owners
func (d *ReportDetail) Clone() *ReportDetail {
	clone := *d
	clone.Players = slices.Clone(d.Players)
	clone.Raw = slices.Clone(d.Raw)
	return &clone
}

func (d *ReportDetail) Encounter() Encounter {
	return Encounter{
		ReportID:     d.ReportID,
		BossName:     d.BossName,
		StartedAt:    d.StartedAt,
		Duration:     d.Duration,
		Success:      d.Success,
		CompositeDPS: d.CompositeDPS,
		Roster:       NewRoster(d.Players...),
	}
}

type ImportedReport struct {
	Upload UploadSummary
	Detail *ReportDetail
}
