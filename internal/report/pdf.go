package report

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/ae-safety-server/internal/domain"
)

// MaxPDFPages limits the number of pages processed from an uploaded PDF.
const MaxPDFPages = 100

// MaxPDFSize bounds accepted PDF uploads (10MB).
const MaxPDFSize = 10 * 1024 * 1024

// ParsePDF extracts the report text from an uploaded PDF and produces the
// report source for a new case.
func ParsePDF(data []byte, filename, reportDate, reporter string) (domain.ReportSource, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return domain.ReportSource{}, domain.NewValidationError("file", "invalid PDF: %v", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return domain.ReportSource{}, domain.NewValidationError("file", "PDF has no pages")
	}
	if totalPages > MaxPDFPages {
		return domain.ReportSource{}, domain.NewValidationError("file", "PDF has %d pages, max allowed is %d", totalPages, MaxPDFPages)
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with extraction errors are skipped, not fatal
			continue
		}

		cleaned := cleanText(text)
		if cleaned != "" {
			textBuilder.WriteString(cleaned)
			textBuilder.WriteString("\n")
		}

		if textBuilder.Len() > MaxReportTextSize {
			break
		}
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if extracted == "" {
		return domain.ReportSource{}, domain.NewValidationError("file", "no text could be extracted from PDF")
	}
	if len(extracted) > MaxReportTextSize {
		extracted = extracted[:MaxReportTextSize]
	}

	return domain.ReportSource{
		Text:       extracted,
		ReportDate: strings.TrimSpace(reportDate),
		Reporter:   strings.TrimSpace(reporter),
		SourceFile: filename,
	}, nil
}

// cleanText strips null bytes and collapses runs of whitespace while keeping
// line breaks.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")

	var result strings.Builder
	lastWasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				if r == '\n' {
					result.WriteRune('\n')
				} else {
					result.WriteRune(' ')
				}
			}
			lastWasSpace = true
			continue
		}
		result.WriteRune(r)
		lastWasSpace = false
	}
	return strings.TrimSpace(result.String())
}
