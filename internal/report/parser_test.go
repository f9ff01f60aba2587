package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ae-safety-server/internal/domain"
)

func TestParse(t *testing.T) {
	input := &UploadInput{
		ReportText: "  patient reported severe headache after dose increase  ",
		PatientID:  "patient-7",
		ReportDate: "2026-08-12",
		Reporter:   "Dr. Okafor",
	}

	src, err := Parse(input)
	require.NoError(t, err)

	assert.Equal(t, "patient reported severe headache after dose increase", src.Text)
	assert.Equal(t, "2026-08-12", src.ReportDate)
	assert.Equal(t, "Dr. Okafor", src.Reporter)
	assert.Empty(t, src.SourceFile)
}

func TestParse_EmptyText(t *testing.T) {
	_, err := Parse(&UploadInput{ReportText: "   "})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestParse_TextTooLarge(t *testing.T) {
	_, err := Parse(&UploadInput{ReportText: strings.Repeat("a", MaxReportTextSize+1)})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestParsePDF_InvalidData(t *testing.T) {
	_, err := ParsePDF([]byte("not a pdf"), "report.pdf", "", "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestParsePDF_Empty(t *testing.T) {
	_, err := ParsePDF(nil, "report.pdf", "", "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "severe   headache\t after dose", "severe headache after dose"},
		{"keeps newlines", "line one\n\nline two", "line one\nline two"},
		{"strips null bytes", "head\x00ache", "headache"},
		{"trims edges", "  text  ", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanText(tt.in))
		})
	}
}
