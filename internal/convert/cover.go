package convert

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/go-pdf/fpdf"
)

// CoverData feeds the cover page placed before each section of an
// aggregated PDF.
type CoverData struct {
	UnitCode        string
	TaskName        string
	StudentName     string
	StudentUsername string
	TutorName       string
	Outcome         string
	SubmittedAt     string
}

var coverBody = template.Must(template.New("cover").Parse(
	`Student: {{.StudentName}} ({{.StudentUsername}})
Tutor: {{.TutorName}}
{{if .Outcome}}Outcome: {{.Outcome}}
{{end}}{{if .SubmittedAt}}Submitted: {{.SubmittedAt}}
{{end}}`))

// CoverPDF writes a single-page cover sheet to dst.
func CoverPDF(data CoverData, dst string) error {
	var body strings.Builder
	if err := coverBody.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render cover body: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(30, 30, 30)
	pdf.SetAutoPageBreak(true, 30)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, data.UnitCode, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, 9, data.TaskName, "", "L", false)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(0, 6, body.String(), "", "L", false)

	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("failed to write cover pdf %s: %w", dst, err)
	}
	return nil
}

// PlaceholderPDF writes a one-line notice page. Served when a portfolio or
// evidence file is requested before it has been compiled.
func PlaceholderPDF(message, dst string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(30, 30, 30)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 14)
	pdf.MultiCell(0, 8, message, "", "C", false)

	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("failed to write placeholder pdf %s: %w", dst, err)
	}
	return nil
}
