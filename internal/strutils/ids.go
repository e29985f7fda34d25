package strutils

import (
	"strings"
)

const MAX_REPORT_ID_LENGTH = 64

// dps.report ids look like "Ab1C-20240301-201512_vg"
func ReportIDIsValid(reportID string) bool {
	if reportID == "" || len(reportID) > MAX_REPORT_ID_LENGTH {
		return false
	}
	for _, char := range reportID {
		switch {
		case 'a' <= char && char <= 'z':
		case 'A' <= char && char <= 'Z':
		case '0' <= char && char <= '9':
		case char == '-' || char == '_':
		default:
			return false
		}
	}
	return true
}

// Source tokens grant access to a user's uploads, only log a short prefix
func RedactToken(token string) string {
	const visible = 4
	if len(token) <= visible*2 {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + "..."
}
