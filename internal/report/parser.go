// Package report turns uploaded adverse-event reports (raw text or PDF) into
// the validated ReportSource a case is created from.
package report

import (
	"strings"

	"github.com/ae-safety-server/internal/domain"
)

// MaxReportTextSize bounds accepted report text (1MB).
const MaxReportTextSize = 1024 * 1024

// UploadInput is the JSON upload body.
type UploadInput struct {
	ReportText string `json:"report_text"`
	PatientID  string `json:"patient_id,omitempty"`
	ReportDate string `json:"report_date,omitempty"`
	Reporter   string `json:"reporter,omitempty"`
}

// Parse validates an upload and produces the report source for a new case.
func Parse(input *UploadInput) (domain.ReportSource, error) {
	text := strings.TrimSpace(input.ReportText)
	if text == "" {
		return domain.ReportSource{}, domain.NewValidationError("report_text", "report text is required")
	}
	if len(text) > MaxReportTextSize {
		return domain.ReportSource{}, domain.NewValidationError("report_text", "report text exceeds %d bytes", MaxReportTextSize)
	}

	return domain.ReportSource{
		Text:       text,
		ReportDate: strings.TrimSpace(input.ReportDate),
		Reporter:   strings.TrimSpace(input.Reporter),
	}, nil
}
