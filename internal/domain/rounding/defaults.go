package rounding

func strPtr(s string) *string { return &s }

func field(id string, t FieldType, label string, size ColumnSize, required bool) FieldDefinition {
	return FieldDefinition{ID: id, Type: t, Label: label, ColumnSize: size, Required: required}
}

func sourced(f FieldDefinition, dataSource string) FieldDefinition {
	f.DataSource = strPtr(dataSource)
	return f
}

func choice(f FieldDefinition, options ...string) FieldDefinition {
	f.Options = options
	return f
}

func withDefault(f FieldDefinition, value string) FieldDefinition {
	f.DefaultValue = strPtr(value)
	return f
}

// DefaultTemplates are the system templates installed by `seed`. Field ids are
// fixed so reseeding a fresh store yields identical schemas.
func DefaultTemplates() []TemplateInput {
	return []TemplateInput{
		{
			Name:        "General Medicine Rounds",
			Description: "Daily ward rounds for general medicine inpatients.",
			IsShared:    true,
			Specialty:   strPtr("internal-medicine"),
			Tags:        []string{"medicine", "ward", "daily"},
			Sections: []SectionDefinition{
				{
					ID:    "gm-vitals",
					Title: "Vitals",
					Fields: []FieldDefinition{
						sourced(field("gm-bp", FieldVitalSign, "BP", ColumnSmall, true), "vitals.bp"),
						sourced(field("gm-hr", FieldVitalSign, "HR", ColumnSmall, true), "vitals.hr"),
						sourced(field("gm-temp", FieldVitalSign, "Temp", ColumnSmall, false), "vitals.temp"),
						sourced(field("gm-spo2", FieldVitalSign, "SpO2", ColumnSmall, false), "vitals.spo2"),
					},
				},
				{
					ID:            "gm-labs",
					Title:         "Labs",
					IsCollapsible: true,
					Fields: []FieldDefinition{
						sourced(field("gm-hgb", FieldLabValue, "Hgb", ColumnSmall, false), "labs.hgb"),
						sourced(field("gm-creatinine", FieldLabValue, "Creatinine", ColumnSmall, false), "labs.creatinine"),
						sourced(field("gm-potassium", FieldLabValue, "K+", ColumnSmall, false), "labs.potassium"),
					},
				},
				{
					ID:    "gm-assessment",
					Title: "Assessment & Plan",
					Fields: []FieldDefinition{
						field("gm-subjective", FieldNote, "Overnight events", ColumnLarge, false),
						field("gm-assess", FieldAssessment, "Assessment", ColumnLarge, true),
						field("gm-plan", FieldPlan, "Plan", ColumnLarge, true),
					},
				},
				{
					ID:            "gm-checklist",
					Title:         "Checklist",
					IsCollapsible: true,
					Fields: []FieldDefinition{
						withDefault(field("gm-dvt", FieldCheckbox, "DVT prophylaxis", ColumnSmall, false), "false"),
						choice(field("gm-diet", FieldSelect, "Diet", ColumnMedium, false), "Regular", "NPO", "Diabetic", "Cardiac"),
						choice(field("gm-code", FieldSelect, "Code status", ColumnMedium, false), "Full code", "DNR", "DNR/DNI"),
						field("gm-dispo", FieldText, "Disposition", ColumnMedium, false),
					},
				},
			},
		},
		{
			Name:        "ICU Rounds",
			Description: "Systems-based rounding for critical care patients.",
			IsShared:    true,
			Specialty:   strPtr("critical-care"),
			Tags:        []string{"icu", "critical-care", "systems"},
			Sections: []SectionDefinition{
				{
					ID:    "icu-neuro",
					Title: "Neuro",
					Fields: []FieldDefinition{
						field("icu-gcs", FieldNumber, "GCS", ColumnSmall, true),
						choice(field("icu-rass", FieldSelect, "RASS", ColumnSmall, false), "+2", "+1", "0", "-1", "-2", "-3", "-4", "-5"),
						field("icu-sedation", FieldMedication, "Sedation", ColumnMedium, false),
					},
				},
				{
					ID:    "icu-cv",
					Title: "Cardiovascular",
					Fields: []FieldDefinition{
						sourced(field("icu-map", FieldVitalSign, "MAP", ColumnSmall, true), "vitals.map"),
						sourced(field("icu-hr", FieldVitalSign, "HR", ColumnSmall, false), "vitals.hr"),
						field("icu-pressors", FieldMedication, "Pressors", ColumnMedium, false),
					},
				},
				{
					ID:    "icu-resp",
					Title: "Respiratory",
					Fields: []FieldDefinition{
						choice(field("icu-vent", FieldSelect, "Vent mode", ColumnMedium, false), "Room air", "NC", "HFNC", "BiPAP", "AC/VC", "PRVC", "PS"),
						field("icu-fio2", FieldNumber, "FiO2", ColumnSmall, false),
						field("icu-peep", FieldNumber, "PEEP", ColumnSmall, false),
						sourced(field("icu-lactate", FieldLabValue, "Lactate", ColumnSmall, false), "labs.lactate"),
					},
				},
				{
					ID:            "icu-lines",
					Title:         "Lines & Devices",
					IsCollapsible: true,
					Fields: []FieldDefinition{
						field("icu-central", FieldCheckbox, "Central line", ColumnSmall, false),
						field("icu-foley", FieldCheckbox, "Foley", ColumnSmall, false),
						field("icu-line-days", FieldNumber, "Line days", ColumnSmall, false),
					},
				},
				{
					ID:    "icu-plan",
					Title: "Plan",
					Fields: []FieldDefinition{
						field("icu-goals", FieldAssessment, "Daily goals", ColumnLarge, true),
						field("icu-plan-text", FieldPlan, "Plan", ColumnLarge, true),
					},
				},
			},
		},
	}
}
