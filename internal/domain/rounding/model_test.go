package rounding

import (
	"errors"
	"reflect"
	"testing"
)

func TestFieldType_Widget(t *testing.T) {
	tests := []struct {
		typ  FieldType
		want Widget
	}{
		{FieldText, WidgetTextInput},
		{FieldNumber, WidgetNumericInput},
		{FieldCheckbox, WidgetToggle},
		{FieldSelect, WidgetDropdown},
		{FieldVitalSign, WidgetTextInput},
		{FieldLabValue, WidgetTextInput},
		{FieldMedication, WidgetTextInput},
		{FieldNote, WidgetTextArea},
		{FieldAssessment, WidgetTextArea},
		{FieldPlan, WidgetTextArea},
		{FieldType("unknown"), WidgetTextInput},
	}
	for _, tt := range tests {
		if got := tt.typ.Widget(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.typ, tt.want, got)
		}
	}
	if len(FieldTypes) != 10 {
		t.Errorf("expected 10 field types, got %d", len(FieldTypes))
	}
	for _, ft := range FieldTypes {
		if !ft.Valid() {
			t.Errorf("%s should be valid", ft)
		}
	}
}

func TestParseFieldType(t *testing.T) {
	ft, err := ParseFieldType(" lab-value ")
	if err != nil || ft != FieldLabValue {
		t.Errorf("expected lab-value, got %q (%v)", ft, err)
	}
	if _, err := ParseFieldType("blood-gas"); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFieldType_Display(t *testing.T) {
	tests := []struct {
		typ   FieldType
		value string
		want  string
	}{
		{FieldCheckbox, "true", "Yes"},
		{FieldCheckbox, "false", "No"},
		{FieldCheckbox, "", ""},
		{FieldNumber, "37.50", "37.5"},
		{FieldNumber, "n/a", "n/a"},
		{FieldText, "hello", "hello"},
	}
	for _, tt := range tests {
		if got := tt.typ.Display(tt.value); got != tt.want {
			t.Errorf("%s(%q): expected %q, got %q", tt.typ, tt.value, tt.want, got)
		}
	}
}

func TestEnumsValid(t *testing.T) {
	if !ShiftEvening.Valid() || Shift("swing").Valid() {
		t.Error("shift validity wrong")
	}
	if !StatusInProgress.Valid() || SheetStatus("done").Valid() {
		t.Error("status validity wrong")
	}
	if !ColumnLarge.Valid() || ColumnSize("xl").Valid() {
		t.Error("column size validity wrong")
	}
}

func TestTemplate_CloneIsDeep(t *testing.T) {
	in := sampleTemplateInput()
	tpl := &Template{Name: in.Name, Sections: in.Sections, Tags: []string{"a"}, Specialty: strPtr("icu")}

	c := tpl.Clone()
	c.Sections[0].Fields[0].Label = "changed"
	*c.Sections[0].Fields[0].DataSource = "changed"
	c.Tags[0] = "b"
	*c.Specialty = "ward"

	if tpl.Sections[0].Fields[0].Label != "BP" {
		t.Error("field label shared with clone")
	}
	if *tpl.Sections[0].Fields[0].DataSource != "vitals.bp" {
		t.Error("data source pointer shared with clone")
	}
	if tpl.Tags[0] != "a" || *tpl.Specialty != "icu" {
		t.Error("tags or specialty shared with clone")
	}
}

func TestSheetInstance_CloneIsDeep(t *testing.T) {
	s := &SheetInstance{Patients: []PatientRow{{PatientID: "p-1", Entries: []Entry{{FieldID: "bp", Value: "1"}}}}}
	c := s.Clone()
	c.Patients[0].Entries[0].Value = "2"
	if s.Patients[0].Entries[0].Value != "1" {
		t.Error("entries shared with clone")
	}
}

func TestTemplate_FieldHelpers(t *testing.T) {
	in := sampleTemplateInput()
	tpl := &Template{Sections: in.Sections}

	if tpl.FieldCount() != 4 {
		t.Errorf("expected 4 fields, got %d", tpl.FieldCount())
	}
	req := tpl.RequiredFields()
	if len(req) != 2 || req[0].ID != "bp" || req[1].ID != "hr" {
		t.Errorf("unexpected required fields %v", req)
	}
	if f, ok := tpl.Field("note"); !ok || f.Type != FieldNote {
		t.Errorf("expected note field, got %+v %v", f, ok)
	}
	if _, ok := tpl.Field("missing"); ok {
		t.Error("expected missing field lookup to fail")
	}
}

// -- Reorder --

func TestReorder(t *testing.T) {
	list := []string{"a", "b", "c", "d"}
	tests := []struct {
		from, to int
		want     []string
	}{
		{0, 2, []string{"b", "c", "a", "d"}},
		{3, 0, []string{"d", "a", "b", "c"}},
		{1, 1, []string{"a", "b", "c", "d"}},
		{0, 3, []string{"b", "c", "d", "a"}},
		{2, 1, []string{"a", "c", "b", "d"}},
	}
	for _, tt := range tests {
		got, err := Reorder(list, tt.from, tt.to)
		if err != nil {
			t.Fatalf("Reorder(%d,%d): %v", tt.from, tt.to, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Reorder(%d,%d): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
	if !reflect.DeepEqual(list, []string{"a", "b", "c", "d"}) {
		t.Errorf("input modified: %v", list)
	}
}

func TestReorder_OutOfRange(t *testing.T) {
	list := []int{1, 2, 3}
	for _, c := range [][2]int{{-1, 0}, {3, 0}, {0, 3}, {0, -1}} {
		if _, err := Reorder(list, c[0], c[1]); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Reorder(%d,%d): expected ErrIndexOutOfRange, got %v", c[0], c[1], err)
		}
	}
	if _, err := Reorder([]int{}, 0, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("empty list: expected ErrIndexOutOfRange, got %v", err)
	}
}

// -- Entries --

func TestSetEntry(t *testing.T) {
	row := PatientRow{PatientID: "p-1"}

	row = SetEntry(row, "bp", "120/80")
	row = SetEntry(row, "hr", "80")
	row = SetEntry(row, "bp", "110/70")
	if GetEntry(row, "bp") != "110/70" {
		t.Errorf("expected overwrite, got %q", GetEntry(row, "bp"))
	}
	if len(row.Entries) != 2 {
		t.Errorf("expected one entry per field, got %d", len(row.Entries))
	}

	original := row
	row = SetEntry(row, "hr", "")
	if HasEntry(row, "hr") {
		t.Error("empty value must remove the entry")
	}
	if !HasEntry(original, "hr") {
		t.Error("SetEntry must not mutate its input")
	}
	if GetEntry(row, "missing") != "" {
		t.Error("missing entry must read as empty")
	}
}

func TestGetEntryBool(t *testing.T) {
	row := PatientRow{Entries: []Entry{{FieldID: "a", Value: "true"}, {FieldID: "b", Value: "false"}}}
	if !GetEntryBool(row, "a") || GetEntryBool(row, "b") || GetEntryBool(row, "c") {
		t.Error("checkbox decoding wrong")
	}
}

func TestNewPatientRow_Defaults(t *testing.T) {
	in := sampleTemplateInput()
	in.Sections[1].Fields[1].DefaultValue = strPtr("")
	tpl := &Template{Sections: in.Sections}

	row := newPatientRow(PatientInput{PatientID: "p-1", PatientName: "Ana", Room: "12"}, tpl)
	if row.Room != "12" || row.PatientName != "Ana" {
		t.Errorf("demographics not copied: %+v", row)
	}
	if len(row.Entries) != 1 || row.Entries[0].FieldID != "dvt" || row.Entries[0].Value != "false" {
		t.Errorf("expected only non-empty default prefilled, got %v", row.Entries)
	}

	bare := newPatientRow(PatientInput{PatientID: "p-2", PatientName: "Bo"}, nil)
	if bare.Entries == nil || len(bare.Entries) != 0 {
		t.Errorf("expected empty non-nil entries, got %v", bare.Entries)
	}
}

// -- Progress --

func progressFixture(patients int, filled map[int][]string) (*SheetInstance, *Template) {
	in := sampleTemplateInput()
	tpl := &Template{Sections: in.Sections}
	sheet := &SheetInstance{}
	for i := 0; i < patients; i++ {
		row := PatientRow{PatientID: "p"}
		for _, f := range filled[i] {
			row = SetEntry(row, f, "x")
		}
		sheet.Patients = append(sheet.Patients, row)
	}
	return sheet, tpl
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name     string
		patients int
		filled   map[int][]string
		want     int
	}{
		{"no patients", 0, nil, 0},
		{"nothing filled", 2, nil, 0},
		{"three of four required", 2, map[int][]string{0: {"bp", "hr"}, 1: {"bp"}}, 75},
		{"optional fields do not count", 1, map[int][]string{0: {"bp", "note", "dvt"}}, 50},
		{"all required", 2, map[int][]string{0: {"bp", "hr"}, 1: {"bp", "hr"}}, 100},
		{"one of three rounds to 33", 3, map[int][]string{0: {"bp", "hr"}}, 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheet, tpl := progressFixture(tt.patients, tt.filled)
			if got := Progress(sheet, tpl); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestProgress_NoRequiredFields(t *testing.T) {
	sheet, tpl := progressFixture(2, map[int][]string{0: {"bp", "hr", "dvt"}, 1: {"note"}})
	for si := range tpl.Sections {
		for fi := range tpl.Sections[si].Fields {
			tpl.Sections[si].Fields[fi].Required = false
		}
	}
	// 4 entries over 2 patients x 4 fields.
	if got := Progress(sheet, tpl); got != 50 {
		t.Errorf("expected entry density 50, got %d", got)
	}

	empty := &Template{}
	if got := Progress(sheet, empty); got != 100 {
		t.Errorf("template without fields counts as complete, got %d", got)
	}
}

func TestProgress_NilTemplate(t *testing.T) {
	sheet, _ := progressFixture(2, map[int][]string{0: {"bp", "hr"}})
	if got := Progress(sheet, nil); got != 0 {
		t.Errorf("unknown template must report 0, got %d", got)
	}
	if got := Progress(nil, nil); got != 0 {
		t.Errorf("nil sheet must report 0, got %d", got)
	}
}

// -- Schema helpers --

func TestParseOptions(t *testing.T) {
	got := ParseOptions(" Regular , NPO,, ,Diabetic ")
	want := []string{"Regular", "NPO", "Diabetic"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if ParseOptions("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestParseExportFormat(t *testing.T) {
	if f, err := ParseExportFormat(""); err != nil || f != FormatPDF {
		t.Errorf("expected pdf default, got %q (%v)", f, err)
	}
	if f, err := ParseExportFormat("xlsx"); err != nil || f != FormatXLSX {
		t.Errorf("expected xlsx, got %q (%v)", f, err)
	}
	if _, err := ParseExportFormat("docx"); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDefaultTemplates_AreValid(t *testing.T) {
	for _, in := range DefaultTemplates() {
		sections, err := prepareSections(in.Sections)
		if err != nil {
			t.Errorf("%s: %v", in.Name, err)
			continue
		}
		tpl := &Template{Sections: sections}
		if len(tpl.RequiredFields()) == 0 {
			t.Errorf("%s: expected required fields", in.Name)
		}
	}
}

func TestValidateStruct(t *testing.T) {
	err := validateStruct(createSheetRequest{TemplateID: "nope", Date: "2025-03-01", Shift: "day", Unit: "4B"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "template_id" || ve.Message != "must be a valid UUID" {
		t.Errorf("unexpected error %+v", ve)
	}

	err = validateStruct(addPatientsRequest{Patients: []PatientInput{{PatientID: "p-1"}}})
	if !errors.As(err, &ve) || ve.Field != "patients[0].patient_name" {
		t.Errorf("expected nested json field name, got %v", err)
	}

	if err := validateStruct(createSheetRequest{TemplateID: "7d1c1f8e-5a4b-4a61-9a53-0c4f1f3b2e10", Date: "2025-03-01", Shift: "night", Unit: "4B"}); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
}
