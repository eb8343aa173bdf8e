package rounding

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSectionTitle = "New Section"
	defaultFieldLabel   = "New Field"
)

// TemplateSaver persists builder output. *Service satisfies it.
type TemplateSaver interface {
	CreateTemplate(ctx context.Context, actor Actor, in TemplateInput) (*Template, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, upd TemplateUpdate) (*Template, error)
}

// Builder edits a template schema locally. Nothing is persisted until Save.
//
// Intermediate states may carry stale order values; Save renumbers every
// section and field to its position before committing.
type Builder struct {
	id          uuid.UUID
	editing     bool
	name        string
	description string
	isShared    bool
	specialty   *string
	tags        []string
	sections    []SectionDefinition
}

type builderForm struct {
	Name string `json:"name" validate:"required"`
}

// NewBuilder starts an empty template.
func NewBuilder() *Builder {
	return &Builder{sections: []SectionDefinition{}}
}

// NewBuilderFrom starts an unsaved template pre-filled from in.
func NewBuilderFrom(in TemplateInput) *Builder {
	b := &Builder{
		name:        in.Name,
		description: in.Description,
		isShared:    in.IsShared,
		specialty:   cleanSpecialty(in.Specialty),
		tags:        append([]string(nil), in.Tags...),
		sections:    cloneSections(in.Sections),
	}
	if b.sections == nil {
		b.sections = []SectionDefinition{}
	}
	return b
}

// EditTemplate starts a builder over a copy of an existing template. Save updates it in place.
func EditTemplate(t *Template) *Builder {
	c := t.Clone()
	b := &Builder{
		id:          c.ID,
		editing:     true,
		name:        c.Name,
		description: c.Description,
		isShared:    c.IsShared,
		specialty:   c.Specialty,
		tags:        c.Tags,
		sections:    c.Sections,
	}
	if b.sections == nil {
		b.sections = []SectionDefinition{}
	}
	return b
}

func (b *Builder) SetName(name string)               { b.name = name }
func (b *Builder) SetDescription(description string) { b.description = description }
func (b *Builder) SetShared(shared bool)             { b.isShared = shared }
func (b *Builder) SetTags(tags []string)             { b.tags = append([]string(nil), tags...) }

func (b *Builder) SetSpecialty(specialty string) {
	if specialty == "" {
		b.specialty = nil
		return
	}
	b.specialty = &specialty
}

// Sections returns a deep copy of the current section list.
func (b *Builder) Sections() []SectionDefinition {
	return cloneSections(b.sections)
}

func (b *Builder) AddSection() SectionDefinition {
	sec := SectionDefinition{
		ID:     newElementID(),
		Title:  defaultSectionTitle,
		Fields: []FieldDefinition{},
		Order:  len(b.sections),
	}
	b.sections = append(b.sections, sec)
	return sec
}

// RemoveSection drops the section at index without renumbering its siblings.
func (b *Builder) RemoveSection(index int) error {
	if err := b.checkSection(index); err != nil {
		return err
	}
	out := make([]SectionDefinition, 0, len(b.sections)-1)
	out = append(out, b.sections[:index]...)
	b.sections = append(out, b.sections[index+1:]...)
	return nil
}

func (b *Builder) UpdateSectionTitle(index int, title string) error {
	return b.updateSection(index, func(s *SectionDefinition) { s.Title = title })
}

func (b *Builder) ToggleSectionCollapsible(index int, collapsible bool) error {
	return b.updateSection(index, func(s *SectionDefinition) { s.IsCollapsible = collapsible })
}

func (b *Builder) ReorderSections(from, to int) error {
	out, err := Reorder(b.sections, from, to)
	if err != nil {
		return err
	}
	b.sections = out
	return nil
}

// AddField appends a text field of medium width to the section at sectionIndex.
func (b *Builder) AddField(sectionIndex int) (FieldDefinition, error) {
	var f FieldDefinition
	err := b.updateSection(sectionIndex, func(s *SectionDefinition) {
		f = FieldDefinition{
			ID:         newElementID(),
			Type:       FieldText,
			Label:      defaultFieldLabel,
			ColumnSize: ColumnMedium,
			Order:      len(s.Fields),
		}
		s.Fields = append(s.Fields, f)
	})
	return f, err
}

func (b *Builder) RemoveField(sectionIndex, fieldIndex int) error {
	if err := b.checkField(sectionIndex, fieldIndex); err != nil {
		return err
	}
	return b.updateSection(sectionIndex, func(s *SectionDefinition) {
		fields := make([]FieldDefinition, 0, len(s.Fields)-1)
		fields = append(fields, s.Fields[:fieldIndex]...)
		s.Fields = append(fields, s.Fields[fieldIndex+1:]...)
	})
}

func (b *Builder) UpdateFieldLabel(sectionIndex, fieldIndex int, label string) error {
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) { f.Label = label })
}

func (b *Builder) UpdateFieldType(sectionIndex, fieldIndex int, t FieldType) error {
	if !t.Valid() {
		_, err := ParseFieldType(string(t))
		return err
	}
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) { f.Type = t })
}

func (b *Builder) UpdateFieldSize(sectionIndex, fieldIndex int, size ColumnSize) error {
	if !size.Valid() {
		return &ValidationError{Field: "column_size", Message: "must be small, medium or large"}
	}
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) { f.ColumnSize = size })
}

func (b *Builder) UpdateFieldRequired(sectionIndex, fieldIndex int, required bool) error {
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) { f.Required = required })
}

// UpdateFieldOptions parses a comma-separated option list onto the field.
func (b *Builder) UpdateFieldOptions(sectionIndex, fieldIndex int, options string) error {
	parsed := ParseOptions(options)
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) { f.Options = parsed })
}

// UpdateFieldDataSource sets the auto-populate key. An empty key clears it.
func (b *Builder) UpdateFieldDataSource(sectionIndex, fieldIndex int, dataSource string) error {
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) {
		if dataSource == "" {
			f.DataSource = nil
			return
		}
		ds := dataSource
		f.DataSource = &ds
	})
}

func (b *Builder) UpdateFieldDefault(sectionIndex, fieldIndex int, value string) error {
	return b.updateField(sectionIndex, fieldIndex, func(f *FieldDefinition) {
		if value == "" {
			f.DefaultValue = nil
			return
		}
		v := value
		f.DefaultValue = &v
	})
}

// ReorderFields moves a field within one section. Fields never move across sections.
func (b *Builder) ReorderFields(sectionIndex, from, to int) error {
	if err := b.checkSection(sectionIndex); err != nil {
		return err
	}
	fields, err := Reorder(b.sections[sectionIndex].Fields, from, to)
	if err != nil {
		return err
	}
	return b.updateSection(sectionIndex, func(s *SectionDefinition) { s.Fields = fields })
}

// Save renumbers orders and creates or updates the template through saver.
// An empty name fails before anything is written.
func (b *Builder) Save(ctx context.Context, saver TemplateSaver, actor Actor) (*Template, error) {
	name := strings.TrimSpace(b.name)
	if err := validateStruct(builderForm{Name: name}); err != nil {
		return nil, err
	}
	sections := cloneSections(b.sections)
	renumber(sections)

	if b.editing {
		desc := b.description
		shared := b.isShared
		tags := append([]string{}, b.tags...)
		upd := TemplateUpdate{
			Name:        &name,
			Description: &desc,
			Sections:    &sections,
			IsShared:    &shared,
			Tags:        &tags,
		}
		specialty := ""
		if b.specialty != nil {
			specialty = *b.specialty
		}
		upd.Specialty = &specialty
		t, err := saver.UpdateTemplate(ctx, b.id, upd)
		if err != nil {
			return nil, err
		}
		b.sections = cloneSections(t.Sections)
		return t, nil
	}

	t, err := saver.CreateTemplate(ctx, actor, TemplateInput{
		Name:        name,
		Description: b.description,
		Sections:    sections,
		IsShared:    b.isShared,
		Specialty:   b.specialty,
		Tags:        b.tags,
	})
	if err != nil {
		return nil, err
	}
	b.id = t.ID
	b.editing = true
	b.sections = cloneSections(t.Sections)
	return t, nil
}

// Preview builds an unsaved template and an empty draft sheet from the current state.
func (b *Builder) Preview(actor Actor) (*Template, *SheetInstance) {
	now := time.Now().UTC()
	sections := cloneSections(b.sections)
	renumber(sections)
	id := b.id
	if id == uuid.Nil {
		id = uuid.New()
	}
	tpl := &Template{
		ID:            id,
		Name:          b.name,
		Description:   b.description,
		Sections:      sections,
		CreatedBy:     actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsShared:      b.isShared,
		Tags:          normalizeTags(b.tags),
	}
	if b.specialty != nil {
		s := *b.specialty
		tpl.Specialty = &s
	}
	sheet := &SheetInstance{
		ID:            uuid.New(),
		TemplateID:    tpl.ID,
		TemplateName:  tpl.Name,
		Date:          now.Format(DateLayout),
		Shift:         ShiftDay,
		Patients:      []PatientRow{},
		CreatedBy:     actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusDraft,
	}
	return tpl, sheet
}

func (b *Builder) checkSection(index int) error {
	if index < 0 || index >= len(b.sections) {
		return indexError("section", index, len(b.sections))
	}
	return nil
}

func (b *Builder) checkField(sectionIndex, fieldIndex int) error {
	if err := b.checkSection(sectionIndex); err != nil {
		return err
	}
	n := len(b.sections[sectionIndex].Fields)
	if fieldIndex < 0 || fieldIndex >= n {
		return indexError("field", fieldIndex, n)
	}
	return nil
}

// updateSection replaces the section list with a copy whose section at index has been mutated.
func (b *Builder) updateSection(index int, fn func(*SectionDefinition)) error {
	if err := b.checkSection(index); err != nil {
		return err
	}
	out := make([]SectionDefinition, len(b.sections))
	copy(out, b.sections)
	sec := out[index]
	sec.Fields = cloneFields(sec.Fields)
	if sec.Fields == nil {
		sec.Fields = []FieldDefinition{}
	}
	fn(&sec)
	out[index] = sec
	b.sections = out
	return nil
}

func (b *Builder) updateField(sectionIndex, fieldIndex int, fn func(*FieldDefinition)) error {
	if err := b.checkField(sectionIndex, fieldIndex); err != nil {
		return err
	}
	return b.updateSection(sectionIndex, func(s *SectionDefinition) { fn(&s.Fields[fieldIndex]) })
}
