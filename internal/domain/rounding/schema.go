package rounding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ParseOptions splits a comma-separated option list, trimming blanks and dropping empties.
func ParseOptions(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// prepareSections fills missing ids and sizes, renumbers orders, and checks id uniqueness.
// Section ids must be unique per template; field ids must be unique across the template
// because entries reference fields by id alone.
func prepareSections(in []SectionDefinition) ([]SectionDefinition, error) {
	sections := cloneSections(in)
	if sections == nil {
		sections = []SectionDefinition{}
	}
	sectionIDs := make(map[string]bool, len(sections))
	fieldIDs := make(map[string]bool)
	for i := range sections {
		sec := &sections[i]
		if sec.ID == "" {
			sec.ID = newElementID()
		}
		if sectionIDs[sec.ID] {
			return nil, &ValidationError{Field: "sections", Message: fmt.Sprintf("duplicate section id %q", sec.ID)}
		}
		sectionIDs[sec.ID] = true
		if sec.Fields == nil {
			sec.Fields = []FieldDefinition{}
		}
		for j := range sec.Fields {
			f := &sec.Fields[j]
			if f.ID == "" {
				f.ID = newElementID()
			}
			if fieldIDs[f.ID] {
				return nil, &ValidationError{Field: "fields", Message: fmt.Sprintf("duplicate field id %q", f.ID)}
			}
			fieldIDs[f.ID] = true
			if f.Type == "" {
				f.Type = FieldText
			}
			if !f.Type.Valid() {
				return nil, &ValidationError{Field: "fields", Message: fmt.Sprintf("field %q has unknown type %q", f.ID, f.Type)}
			}
			if f.ColumnSize == "" {
				f.ColumnSize = ColumnMedium
			}
			if !f.ColumnSize.Valid() {
				return nil, &ValidationError{Field: "fields", Message: fmt.Sprintf("field %q has unknown column size %q", f.ID, f.ColumnSize)}
			}
		}
	}
	renumber(sections)
	return sections, nil
}

// normalizeTags trims, lowercases and de-duplicates tags, returning them sorted.
func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func newElementID() string {
	return uuid.NewString()
}
