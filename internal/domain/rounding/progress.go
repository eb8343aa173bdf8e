package rounding

import "math"

// Progress is the completion percentage of a sheet against its template, in [0, 100].
//
// With required fields, it is the share of (patient, required field) cells holding a value.
// Without any, it falls back to raw entry density over all fields; a template with no
// fields at all counts as complete. An unknown (nil) template reports 0.
func Progress(sheet *SheetInstance, tpl *Template) int {
	if sheet == nil || tpl == nil || len(sheet.Patients) == 0 {
		return 0
	}
	patients := len(sheet.Patients)

	required := tpl.RequiredFields()
	if len(required) > 0 {
		filled := 0
		for _, p := range sheet.Patients {
			for _, f := range required {
				if HasEntry(p, f.ID) {
					filled++
				}
			}
		}
		return percent(filled, patients*len(required))
	}

	total := tpl.FieldCount()
	if total == 0 {
		return 100
	}
	entries := 0
	for _, p := range sheet.Patients {
		entries += len(p.Entries)
	}
	return percent(entries, patients*total)
}

func percent(n, d int) int {
	if d <= 0 {
		return 0
	}
	p := int(math.Round(float64(n) / float64(d) * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// ProgressSummary is the per-sheet completion report.
type ProgressSummary struct {
	SheetID        string      `json:"sheet_id"`
	Progress       int         `json:"progress"`
	Patients       int         `json:"patients"`
	RequiredFields int         `json:"required_fields"`
	Status         SheetStatus `json:"status"`
}
