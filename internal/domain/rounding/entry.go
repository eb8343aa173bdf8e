package rounding

// GetEntry returns the recorded value for fieldID, or "" when unset.
func GetEntry(row PatientRow, fieldID string) string {
	for _, e := range row.Entries {
		if e.FieldID == fieldID {
			return e.Value
		}
	}
	return ""
}

// GetEntryBool decodes a checkbox entry.
func GetEntryBool(row PatientRow, fieldID string) bool {
	return GetEntry(row, fieldID) == "true"
}

// SetEntry returns a copy of row with fieldID set to value. An empty value removes the entry.
func SetEntry(row PatientRow, fieldID, value string) PatientRow {
	entries := make([]Entry, 0, len(row.Entries)+1)
	for _, e := range row.Entries {
		if e.FieldID != fieldID {
			entries = append(entries, e)
		}
	}
	if value != "" {
		entries = append(entries, Entry{FieldID: fieldID, Value: value})
	}
	row.Entries = entries
	return row
}

// HasEntry reports whether fieldID holds a non-empty value.
func HasEntry(row PatientRow, fieldID string) bool {
	return GetEntry(row, fieldID) != ""
}

// normalizeEntries drops empty values and keeps the last value written per field.
func normalizeEntries(in []Entry) []Entry {
	out := make([]Entry, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, e := range in {
		if i, ok := pos[e.FieldID]; ok {
			out[i].Value = e.Value
			continue
		}
		pos[e.FieldID] = len(out)
		out = append(out, e)
	}
	kept := out[:0]
	for _, e := range out {
		if e.Value != "" {
			kept = append(kept, e)
		}
	}
	return kept
}

// newPatientRow builds a roster row, pre-filling fields that declare a default value.
func newPatientRow(in PatientInput, tpl *Template) PatientRow {
	row := PatientRow{
		PatientID:          in.PatientID,
		PatientName:        in.PatientName,
		Room:               in.Room,
		MRN:                in.MRN,
		AdmitDate:          in.AdmitDate,
		AttendingPhysician: in.AttendingPhysician,
		Diagnosis:          in.Diagnosis,
		Entries:            []Entry{},
	}
	if tpl == nil {
		return row
	}
	for _, sec := range tpl.Sections {
		for _, f := range sec.Fields {
			if f.DefaultValue != nil && *f.DefaultValue != "" {
				row.Entries = append(row.Entries, Entry{FieldID: f.ID, Value: *f.DefaultValue})
			}
		}
	}
	return row
}
