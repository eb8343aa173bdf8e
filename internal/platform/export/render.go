// Package export renders rounding sheets to PDF and XLSX, stores the result
// in the blob store, and runs background export jobs on asynq.
package export

import (
	"fmt"
	"strings"

	"github.com/ehr/rounding/internal/domain/rounding"
)

// Renderer turns a sheet into a document. tpl may be nil.
type Renderer interface {
	Render(sheet *rounding.SheetInstance, tpl *rounding.Template) ([]byte, error)
	ContentType() string
	Extension() string
}

// DefaultRenderers returns the built-in renderer for every export format.
func DefaultRenderers() map[rounding.ExportFormat]Renderer {
	return map[rounding.ExportFormat]Renderer{
		rounding.FormatPDF:  NewPDFRenderer(),
		rounding.FormatXLSX: NewXLSXRenderer(),
	}
}

// column is one rendered field together with the section it belongs to.
type column struct {
	section string
	field   rounding.FieldDefinition
}

// columns flattens the template in section order. Without a template the
// field ids found in the entries become plain text columns, in first-seen order.
func columns(sheet *rounding.SheetInstance, tpl *rounding.Template) []column {
	var cols []column
	if tpl != nil {
		for _, sec := range tpl.Sections {
			for _, f := range sec.Fields {
				cols = append(cols, column{section: sec.Title, field: f})
			}
		}
		return cols
	}

	seen := make(map[string]bool)
	for _, p := range sheet.Patients {
		for _, e := range p.Entries {
			if seen[e.FieldID] {
				continue
			}
			seen[e.FieldID] = true
			cols = append(cols, column{
				section: "Entries",
				field: rounding.FieldDefinition{
					ID:         e.FieldID,
					Type:       rounding.FieldText,
					Label:      e.FieldID,
					ColumnSize: rounding.ColumnMedium,
				},
			})
		}
	}
	return cols
}

func cellValue(row rounding.PatientRow, col column) string {
	return col.field.Type.Display(rounding.GetEntry(row, col.field.ID))
}

func templateName(sheet *rounding.SheetInstance, tpl *rounding.Template) string {
	if tpl != nil {
		return tpl.Name
	}
	return sheet.TemplateName
}

func sheetTitle(sheet *rounding.SheetInstance, tpl *rounding.Template) string {
	return fmt.Sprintf("%s - %s", templateName(sheet, tpl), sheet.Unit)
}

func sheetSubtitle(sheet *rounding.SheetInstance) string {
	return fmt.Sprintf("Date: %s   Shift: %s   Status: %s   Patients: %d",
		sheet.Date, sheet.Shift, sheet.Status, len(sheet.Patients))
}

// FileName builds the download name, e.g. "icu-4-2025-03-01-night.pdf".
func FileName(sheet *rounding.SheetInstance, ext string) string {
	return fmt.Sprintf("%s-%s-%s.%s", slug(sheet.Unit), sheet.Date, sheet.Shift, ext)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "sheet"
	}
	return out
}
