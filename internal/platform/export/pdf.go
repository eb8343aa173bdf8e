package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/ehr/rounding/internal/domain/rounding"
	"github.com/ehr/rounding/internal/platform/blobstore"
)

const (
	pdfLabelWidth = 60.0
	pdfLineHeight = 5.5
)

// PDFRenderer prints one block per patient with the template's sections and
// fields listed as label/value rows.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

func (r *PDFRenderer) ContentType() string { return blobstore.ContentTypePDF }
func (r *PDFRenderer) Extension() string   { return "pdf" }

func (r *PDFRenderer) Render(sheet *rounding.SheetInstance, tpl *rounding.Template) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(sheetTitle(sheet, tpl), true)
	pdf.SetCreator("rounding-server", false)
	pdf.SetCreationDate(sheet.UpdatedAt)
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 15)
	pdf.CellFormat(0, 8, tr(sheetTitle(sheet, tpl)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, tr(sheetSubtitle(sheet)), "", 1, "L", false, 0, "")
	if tpl == nil {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 6, "Template no longer available; raw entries shown.", "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	if len(sheet.Patients) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "No patients on this sheet.", "", 1, "L", false, 0, "")
	}

	cols := columns(sheet, tpl)
	for i, p := range sheet.Patients {
		pdf.SetFillColor(217, 225, 242)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, tr(patientHeading(i, p)), "1", 1, "L", true, 0, "")

		if details := patientDetails(p); details != "" {
			pdf.SetFont("Helvetica", "", 8)
			pdf.MultiCell(0, pdfLineHeight, tr(details), "", "L", false)
		}

		section := ""
		for _, col := range cols {
			if col.section != section {
				section = col.section
				pdf.SetFont("Helvetica", "B", 9)
				pdf.CellFormat(0, 6, tr(section), "B", 1, "L", false, 0, "")
			}
			label := col.field.Label
			if col.field.Required {
				label += " *"
			}
			pdf.SetFont("Helvetica", "", 9)
			pdf.CellFormat(pdfLabelWidth, pdfLineHeight, tr(label), "", 0, "L", false, 0, "")
			pdf.MultiCell(0, pdfLineHeight, tr(cellValue(p, col)), "", "L", false)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func patientHeading(i int, p rounding.PatientRow) string {
	h := fmt.Sprintf("%d. %s", i+1, p.PatientName)
	if p.Room != "" {
		h += "  (Room " + p.Room + ")"
	}
	return h
}

func patientDetails(p rounding.PatientRow) string {
	var parts []string
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("MRN", p.MRN)
	add("Admitted", p.AdmitDate)
	add("Attending", p.AttendingPhysician)
	add("Diagnosis", p.Diagnosis)

	return strings.Join(parts, "   ")
}
