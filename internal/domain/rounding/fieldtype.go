package rounding

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType is the closed set of column kinds a template may declare.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldNumber     FieldType = "number"
	FieldCheckbox   FieldType = "checkbox"
	FieldSelect     FieldType = "select"
	FieldVitalSign  FieldType = "vital-sign"
	FieldLabValue   FieldType = "lab-value"
	FieldMedication FieldType = "medication"
	FieldNote       FieldType = "note"
	FieldAssessment FieldType = "assessment"
	FieldPlan       FieldType = "plan"
)

// FieldTypes lists every FieldType in declaration order.
var FieldTypes = []FieldType{
	FieldText, FieldNumber, FieldCheckbox, FieldSelect, FieldVitalSign,
	FieldLabValue, FieldMedication, FieldNote, FieldAssessment, FieldPlan,
}

// Widget names the editor a field renders with.
type Widget string

const (
	WidgetTextInput    Widget = "text-input"
	WidgetNumericInput Widget = "numeric-input"
	WidgetToggle       Widget = "toggle"
	WidgetDropdown     Widget = "dropdown"
	WidgetTextArea     Widget = "textarea"
)

func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: fmt.Sprintf("unknown field type %q", s)}
	}
	return t, nil
}

func (t FieldType) Valid() bool {
	_, err := t.widget()
	return err == nil
}

// Widget returns the editor for the type. Unknown types fall back to a text input.
func (t FieldType) Widget() Widget {
	w, err := t.widget()
	if err != nil {
		return WidgetTextInput
	}
	return w
}

// widget is the single dispatch point over FieldType; adding a type means adding a case here.
func (t FieldType) widget() (Widget, error) {
	switch t {
	case FieldText, FieldVitalSign, FieldLabValue, FieldMedication:
		return WidgetTextInput, nil
	case FieldNumber:
		return WidgetNumericInput, nil
	case FieldCheckbox:
		return WidgetToggle, nil
	case FieldSelect:
		return WidgetDropdown, nil
	case FieldNote, FieldAssessment, FieldPlan:
		return WidgetTextArea, nil
	}
	return "", fmt.Errorf("unknown field type %q", string(t))
}

// Display renders a stored value for read-only output.
func (t FieldType) Display(value string) string {
	switch t.Widget() {
	case WidgetToggle:
		if value == "true" {
			return "Yes"
		}
		if value == "false" {
			return "No"
		}
		return ""
	case WidgetNumericInput:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return value
}
