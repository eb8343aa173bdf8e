package rounding

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format of SheetInstance.Date.
const DateLayout = "2006-01-02"

// ColumnSize controls how wide a field renders in the sheet grid.
type ColumnSize string

const (
	ColumnSmall  ColumnSize = "small"
	ColumnMedium ColumnSize = "medium"
	ColumnLarge  ColumnSize = "large"
)

func (c ColumnSize) Valid() bool {
	switch c {
	case ColumnSmall, ColumnMedium, ColumnLarge:
		return true
	}
	return false
}

// Shift is the nursing shift a sheet covers.
type Shift string

const (
	ShiftDay     Shift = "day"
	ShiftEvening Shift = "evening"
	ShiftNight   Shift = "night"
)

func (s Shift) Valid() bool {
	switch s {
	case ShiftDay, ShiftEvening, ShiftNight:
		return true
	}
	return false
}

// SheetStatus is the lifecycle state of a SheetInstance.
type SheetStatus string

const (
	StatusDraft      SheetStatus = "draft"
	StatusInProgress SheetStatus = "in-progress"
	StatusCompleted  SheetStatus = "completed"
)

func (s SheetStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// FieldDefinition is a single typed column of a rounding sheet.
type FieldDefinition struct {
	ID           string     `json:"id"`
	Type         FieldType  `json:"type"`
	Label        string     `json:"label"`
	ColumnSize   ColumnSize `json:"column_size"`
	Required     bool       `json:"required"`
	DefaultValue *string    `json:"default_value,omitempty"`
	Options      []string   `json:"options,omitempty"`
	DataSource   *string    `json:"data_source,omitempty"`
	Order        int        `json:"order"`
}

// SectionDefinition groups fields under a heading.
type SectionDefinition struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	IsCollapsible bool              `json:"is_collapsible"`
	Fields        []FieldDefinition `json:"fields"`
	Order         int               `json:"order"`
}

// Template maps to the rounding_template table. Sections are stored as JSONB.
type Template struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	Name          string              `db:"name" json:"name"`
	Description   string              `db:"description" json:"description"`
	Sections      []SectionDefinition `db:"sections" json:"sections"`
	CreatedBy     string              `db:"created_by" json:"created_by"`
	CreatedByName string              `db:"created_by_name" json:"created_by_name"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
	IsShared      bool                `db:"is_shared" json:"is_shared"`
	IsDefault     bool                `db:"is_default" json:"is_default"`
	Specialty     *string             `db:"specialty" json:"specialty,omitempty"`
	Tags          []string            `db:"tags" json:"tags"`
	UseCount      int                 `db:"use_count" json:"use_count"`
	LastUsedAt    *time.Time          `db:"last_used_at" json:"last_used_at,omitempty"`
}

// Entry is one patient's recorded value for one field. An empty value is never stored.
type Entry struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// PatientRow is a demographic snapshot taken when the patient was added to the sheet.
type PatientRow struct {
	PatientID          string  `json:"patient_id"`
	PatientName        string  `json:"patient_name"`
	Room               string  `json:"room"`
	MRN                string  `json:"mrn"`
	AdmitDate          string  `json:"admit_date"`
	AttendingPhysician string  `json:"attending_physician"`
	Diagnosis          string  `json:"diagnosis"`
	Entries            []Entry `json:"entries"`
}

// SheetInstance maps to the rounding_sheet table. Patients are stored as JSONB.
type SheetInstance struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	TemplateID    uuid.UUID    `db:"template_id" json:"template_id"`
	TemplateName  string       `db:"template_name" json:"template_name"`
	Date          string       `db:"sheet_date" json:"date"`
	Shift         Shift        `db:"shift" json:"shift"`
	Unit          string       `db:"unit" json:"unit"`
	Patients      []PatientRow `db:"patients" json:"patients"`
	CreatedBy     string       `db:"created_by" json:"created_by"`
	CreatedByName string       `db:"created_by_name" json:"created_by_name"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
	Status        SheetStatus  `db:"status" json:"status"`
	Version       int          `db:"version" json:"version"`
}

// Actor identifies the user performing a write.
type Actor struct {
	ID   string
	Name string
}

// TemplateInput is the caller-supplied part of a new template.
type TemplateInput struct {
	Name        string
	Description string
	Sections    []SectionDefinition
	IsShared    bool
	Specialty   *string
	Tags        []string
}

// SheetInput identifies the template and the date, shift and unit of a new sheet.
type SheetInput struct {
	TemplateID uuid.UUID
	Date       string
	Shift      Shift
	Unit       string
}

// TemplateUpdate carries the fields to merge over an existing template. Nil means unchanged.
type TemplateUpdate struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Sections    *[]SectionDefinition `json:"sections,omitempty"`
	IsShared    *bool                `json:"is_shared,omitempty"`
	Specialty   *string              `json:"specialty,omitempty"` // "" clears
	Tags        *[]string            `json:"tags,omitempty"`
}

// SheetUpdate carries the fields to merge over an existing sheet. Nil means unchanged.
// ExpectedVersion, when set, must match the stored version.
type SheetUpdate struct {
	Date            *string       `json:"date,omitempty"`
	Shift           *Shift        `json:"shift,omitempty"`
	Unit            *string       `json:"unit,omitempty"`
	Patients        *[]PatientRow `json:"patients,omitempty"`
	Status          *SheetStatus  `json:"status,omitempty"`
	ExpectedVersion *int          `json:"version,omitempty"`
}

// PatientInput describes a patient to append to a sheet roster.
type PatientInput struct {
	PatientID          string `json:"patient_id" validate:"required"`
	PatientName        string `json:"patient_name" validate:"required"`
	Room               string `json:"room"`
	MRN                string `json:"mrn"`
	AdmitDate          string `json:"admit_date"`
	AttendingPhysician string `json:"attending_physician"`
	Diagnosis          string `json:"diagnosis"`
}

// TemplateFilter narrows template listings. Zero values match everything.
type TemplateFilter struct {
	Specialty  string
	Tag        string
	SharedOnly bool
	Query      string
}

// SheetFilter narrows sheet listings. Zero values match everything.
type SheetFilter struct {
	Unit       string
	Date       string
	Status     SheetStatus
	TemplateID uuid.UUID
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Sections = cloneSections(t.Sections)
	c.Tags = append([]string(nil), t.Tags...)
	if t.Specialty != nil {
		v := *t.Specialty
		c.Specialty = &v
	}
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		c.LastUsedAt = &v
	}
	return &c
}

// Clone returns a deep copy of the sheet.
func (s *SheetInstance) Clone() *SheetInstance {
	if s == nil {
		return nil
	}
	c := *s
	c.Patients = clonePatients(s.Patients)
	return &c
}

// RequiredFields returns every required field across all sections, in section order.
func (t *Template) RequiredFields() []FieldDefinition {
	var out []FieldDefinition
	for _, sec := range t.Sections {
		for _, f := range sec.Fields {
			if f.Required {
				out = append(out, f)
			}
		}
	}
	return out
}

// FieldCount is the total number of fields across all sections.
func (t *Template) FieldCount() int {
	n := 0
	for _, sec := range t.Sections {
		n += len(sec.Fields)
	}
	return n
}

// Field looks a field up by id across all sections.
func (t *Template) Field(id string) (FieldDefinition, bool) {
	for _, sec := range t.Sections {
		for _, f := range sec.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return FieldDefinition{}, false
}

func cloneSections(in []SectionDefinition) []SectionDefinition {
	if in == nil {
		return nil
	}
	out := make([]SectionDefinition, len(in))
	for i, sec := range in {
		out[i] = sec
		out[i].Fields = cloneFields(sec.Fields)
	}
	return out
}

func cloneFields(in []FieldDefinition) []FieldDefinition {
	if in == nil {
		return nil
	}
	out := make([]FieldDefinition, len(in))
	for i, f := range in {
		out[i] = cloneField(f)
	}
	return out
}

func cloneField(f FieldDefinition) FieldDefinition {
	c := f
	c.Options = append([]string(nil), f.Options...)
	if f.DefaultValue != nil {
		v := *f.DefaultValue
		c.DefaultValue = &v
	}
	if f.DataSource != nil {
		v := *f.DataSource
		c.DataSource = &v
	}
	return c
}

func clonePatients(in []PatientRow) []PatientRow {
	if in == nil {
		return nil
	}
	out := make([]PatientRow, len(in))
	for i, p := range in {
		out[i] = p
		out[i].Entries = append([]Entry(nil), p.Entries...)
	}
	return out
}
