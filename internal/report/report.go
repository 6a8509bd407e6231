// Package report renders the doctor-facing PDF of a pre-consultation.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"triage-intake/pkg"
)

const notSpecified = "Not specified"

var fieldLabels = map[pkg.Field]string{
	pkg.FieldSeverity:  "Severity",
	pkg.FieldDuration:  "Duration",
	pkg.FieldFrequency: "Frequency",
}

// Render writes the PDF report for a session: patient details, then one block
// per symptom with every detail field.  Empty details read "Not specified".
func Render(w io.Writer, s pkg.Session, summary *pkg.Summary, generatedAt time.Time) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Pre-consultation report", true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// Header
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Pre-consultation report")
	pdf.Ln(14)

	// Patient info
	pdf.SetFont("Helvetica", "", 11)
	patient := s.PatientName
	if patient == "" {
		patient = "Anonymous"
	}
	line(pdf, tr, "Patient", patient)
	line(pdf, tr, "Session", s.ID)
	line(pdf, tr, "Started", s.CreatedAt.Format("02.01.2006 15:04"))
	line(pdf, tr, "Status", string(s.Status))
	line(pdf, tr, "Generated", generatedAt.Format("02.01.2006 15:04"))
	pdf.Ln(6)

	// Symptoms
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Reported symptoms")
	pdf.Ln(10)

	var symptoms []pkg.Symptom
	if summary != nil {
		symptoms = summary.Record.Symptoms
	}
	if len(symptoms) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 7, "No symptoms were reported.")
		pdf.Ln(8)
	}
	for i, sym := range symptoms {
		name := sym.Name
		if name == "" {
			name = "Unnamed symptom"
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, tr(fmt.Sprintf("%d. %s", i+1, name)))
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, f := range pkg.DetailFields {
			line(pdf, tr, "    "+fieldLabels[f], orNotSpecified(sym.Detail(f)))
		}
		pdf.Ln(3)
	}

	if summary != nil && summary.FreeText != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.Cell(0, 8, "Summary")
		pdf.Ln(10)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(summary.FreeText), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write PDF: %w", err)
	}
	return nil
}

func line(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.CellFormat(40, 7, tr(label+":"), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
}

func orNotSpecified(v string) string {
	if strings.TrimSpace(v) == "" {
		return notSpecified
	}
	return v
}
