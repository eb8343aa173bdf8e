package rounding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testActor = Actor{ID: "dr-1", Name: "Dr. Grey"}

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store.Templates(), store.Sheets(), store, zerolog.Nop()), store
}

func sampleTemplateInput() TemplateInput {
	return TemplateInput{
		Name: "Ward Rounds",
		Sections: []SectionDefinition{
			{
				ID:    "vitals",
				Title: "Vitals",
				Fields: []FieldDefinition{
					{ID: "bp", Type: FieldVitalSign, Label: "BP", Required: true, DataSource: strPtr("vitals.bp")},
					{ID: "hr", Type: FieldVitalSign, Label: "HR", Required: true, DataSource: strPtr("vitals.hr")},
				},
			},
			{
				ID:    "care",
				Title: "Care",
				Fields: []FieldDefinition{
					{ID: "dvt", Type: FieldCheckbox, Label: "DVT", DefaultValue: strPtr("false")},
					{ID: "note", Type: FieldNote, Label: "Note"},
				},
			},
		},
		Tags: []string{" Ward ", "daily", "ward"},
	}
}

func createTestTemplate(t *testing.T, svc *Service) *Template {
	t.Helper()
	tpl, err := svc.CreateTemplate(context.Background(), testActor, sampleTemplateInput())
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func createTestSheet(t *testing.T, svc *Service, tpl *Template) *SheetInstance {
	t.Helper()
	sheet, err := svc.CreateSheet(context.Background(), testActor, SheetInput{
		TemplateID: tpl.ID,
		Date:       "2025-03-01",
		Shift:      ShiftDay,
		Unit:       "4B",
	})
	if err != nil {
		t.Fatalf("create sheet: %v", err)
	}
	return sheet
}

func addTestPatients(t *testing.T, svc *Service, sheetID uuid.UUID, n int) *SheetInstance {
	t.Helper()
	var in []PatientInput
	for i := 0; i < n; i++ {
		in = append(in, PatientInput{PatientID: fmt.Sprintf("p-%d", i+1), PatientName: fmt.Sprintf("Patient %d", i+1)})
	}
	sheet, err := svc.AddPatientsToSheet(context.Background(), sheetID, in)
	if err != nil {
		t.Fatalf("add patients: %v", err)
	}
	return sheet
}

// -- Templates --

func TestService_CreateTemplate(t *testing.T) {
	svc, _ := newTestService()
	in := sampleTemplateInput()
	in.Name = "  Ward Rounds  "
	in.Sections[1].Fields[1].ID = ""

	tpl, err := svc.CreateTemplate(context.Background(), testActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if tpl.Name != "Ward Rounds" {
		t.Errorf("expected trimmed name, got %q", tpl.Name)
	}
	if tpl.CreatedBy != testActor.ID || tpl.CreatedByName != testActor.Name {
		t.Errorf("expected creator %v, got %s/%s", testActor, tpl.CreatedBy, tpl.CreatedByName)
	}
	if tpl.UseCount != 0 || tpl.LastUsedAt != nil {
		t.Error("expected fresh usage counters")
	}
	if tpl.IsDefault {
		t.Error("user templates must not be default")
	}
	if got := tpl.Sections[1].Fields[1].ID; got == "" {
		t.Error("expected generated field id")
	}
	for i, sec := range tpl.Sections {
		if sec.Order != i {
			t.Errorf("section %d has order %d", i, sec.Order)
		}
		for j, f := range sec.Fields {
			if f.Order != j {
				t.Errorf("field %d/%d has order %d", i, j, f.Order)
			}
			if f.ColumnSize != ColumnMedium {
				t.Errorf("expected default column size medium, got %s", f.ColumnSize)
			}
		}
	}
	if len(tpl.Tags) != 2 || tpl.Tags[0] != "daily" || tpl.Tags[1] != "ward" {
		t.Errorf("expected normalized tags [daily ward], got %v", tpl.Tags)
	}
}

func TestService_CreateTemplate_InvalidSchema(t *testing.T) {
	svc, store := newTestService()

	tests := []struct {
		name   string
		mutate func(in *TemplateInput)
	}{
		{"duplicate field id", func(in *TemplateInput) { in.Sections[1].Fields[0].ID = "bp" }},
		{"duplicate section id", func(in *TemplateInput) { in.Sections[1].ID = "vitals" }},
		{"unknown field type", func(in *TemplateInput) { in.Sections[0].Fields[0].Type = "blood" }},
		{"unknown column size", func(in *TemplateInput) { in.Sections[0].Fields[0].ColumnSize = "huge" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleTemplateInput()
			tt.mutate(&in)
			_, err := svc.CreateTemplate(context.Background(), testActor, in)
			if !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	_, total, _ := store.Templates().List(context.Background(), TemplateFilter{}, 0, 0)
	if total != 0 {
		t.Errorf("expected nothing stored, got %d templates", total)
	}
}

func TestService_UpdateTemplate(t *testing.T) {
	svc, _ := newTestService()
	specialty := "cardiology"
	in := sampleTemplateInput()
	in.Specialty = &specialty
	tpl, err := svc.CreateTemplate(context.Background(), testActor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "Cardiac Rounds"
	none := ""
	updated, err := svc.UpdateTemplate(context.Background(), tpl.ID, TemplateUpdate{Name: &name, Specialty: &none})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != name {
		t.Errorf("expected name %q, got %q", name, updated.Name)
	}
	if updated.Specialty != nil {
		t.Errorf("expected specialty cleared, got %q", *updated.Specialty)
	}
	if updated.FieldCount() != tpl.FieldCount() {
		t.Error("sections must be unchanged when not supplied")
	}
	if updated.CreatedBy != tpl.CreatedBy || !updated.CreatedAt.Equal(tpl.CreatedAt) {
		t.Error("ownership must not change on update")
	}
	if updated.UpdatedAt.Before(tpl.UpdatedAt) {
		t.Error("expected updated_at to move forward")
	}
}

func TestService_UpdateTemplate_NotFound(t *testing.T) {
	svc, _ := newTestService()
	createTestTemplate(t, svc)

	name := "Ghost"
	_, err := svc.UpdateTemplate(context.Background(), uuid.New(), TemplateUpdate{Name: &name})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	items, total, _ := svc.ListTemplates(context.Background(), TemplateFilter{}, 0, 0)
	if total != 1 || items[0].Name != "Ward Rounds" {
		t.Errorf("collection changed after failed update: %d items", total)
	}
}

func TestService_DeleteTemplate_KeepsSheets(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)

	if err := svc.DeleteTemplate(context.Background(), tpl.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetTemplate(context.Background(), tpl.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected template gone, got %v", err)
	}
	got, err := svc.GetSheet(context.Background(), sheet.ID)
	if err != nil {
		t.Fatalf("sheet should survive template deletion: %v", err)
	}
	if got.TemplateName != "Ward Rounds" {
		t.Errorf("expected denormalized template name, got %q", got.TemplateName)
	}
}

func TestService_DeleteTemplate_DefaultIsProtected(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.SeedDefaults(context.Background(), Actor{ID: "system", Name: "System"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	items, _, _ := svc.ListTemplates(context.Background(), TemplateFilter{}, 0, 0)
	if len(items) == 0 {
		t.Fatal("expected seeded templates")
	}

	err := svc.DeleteTemplate(context.Background(), items[0].ID)
	if !errors.Is(err, ErrProtectedTemplate) {
		t.Errorf("expected ErrProtectedTemplate, got %v", err)
	}
}

func TestService_DeleteTemplate_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.DeleteTemplate(context.Background(), uuid.New()); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestService_CloneTemplate(t *testing.T) {
	svc, _ := newTestService()
	in := sampleTemplateInput()
	in.IsShared = true
	src, err := svc.CreateTemplate(context.Background(), testActor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createTestSheet(t, svc, src)

	other := Actor{ID: "nurse-2", Name: "Nurse Joy"}
	clone, err := svc.CloneTemplate(context.Background(), other, src.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clone.ID == src.ID {
		t.Fatal("clone must have a new id")
	}
	if clone.Name != "Ward Rounds (Copy)" {
		t.Errorf("unexpected clone name %q", clone.Name)
	}
	if clone.CreatedBy != other.ID || clone.IsShared || clone.UseCount != 0 || clone.LastUsedAt != nil {
		t.Errorf("clone should be owned by caller with fresh flags: %+v", clone)
	}

	// Editing the clone must not touch the source.
	sections := clone.Sections
	sections[0].Fields[0].Label = "Blood pressure"
	if _, err := svc.UpdateTemplate(context.Background(), clone.ID, TemplateUpdate{Sections: &sections}); err != nil {
		t.Fatalf("update clone: %v", err)
	}
	reloaded, _ := svc.GetTemplate(context.Background(), src.ID)
	if reloaded.Sections[0].Fields[0].Label != "BP" {
		t.Errorf("source template changed through clone: %q", reloaded.Sections[0].Fields[0].Label)
	}
}

func TestService_SeedDefaults_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	system := Actor{ID: "system", Name: "System"}

	n, err := svc.SeedDefaults(context.Background(), system)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(DefaultTemplates()) {
		t.Errorf("expected %d seeded, got %d", len(DefaultTemplates()), n)
	}

	n, err = svc.SeedDefaults(context.Background(), system)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected reseed to create nothing, got %d", n)
	}

	items, _, _ := svc.ListTemplates(context.Background(), TemplateFilter{SharedOnly: true}, 0, 0)
	for _, tpl := range items {
		if !tpl.IsDefault {
			t.Errorf("expected %q to be a default template", tpl.Name)
		}
	}
}

func TestService_ListTemplates_Filters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cardio := "cardiology"

	mk := func(name string, shared bool, specialty *string, tags ...string) {
		t.Helper()
		if _, err := svc.CreateTemplate(ctx, testActor, TemplateInput{Name: name, IsShared: shared, Specialty: specialty, Tags: tags}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	mk("Zeta Cardiac", true, &cardio, "heart")
	mk("alpha ward", false, nil, "ward")
	mk("Beta ICU", true, nil, "icu", "ward")

	tests := []struct {
		name   string
		filter TemplateFilter
		want   []string
	}{
		{"all sorted by name", TemplateFilter{}, []string{"alpha ward", "Beta ICU", "Zeta Cardiac"}},
		{"shared only", TemplateFilter{SharedOnly: true}, []string{"Beta ICU", "Zeta Cardiac"}},
		{"specialty", TemplateFilter{Specialty: "Cardiology"}, []string{"Zeta Cardiac"}},
		{"tag", TemplateFilter{Tag: "WARD"}, []string{"alpha ward", "Beta ICU"}},
		{"name query", TemplateFilter{Query: "icu"}, []string{"Beta ICU"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := svc.ListTemplates(ctx, tt.filter, 0, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != len(tt.want) {
				t.Fatalf("expected %d results, got %d", len(tt.want), total)
			}
			for i, name := range tt.want {
				if items[i].Name != name {
					t.Errorf("position %d: expected %q, got %q", i, name, items[i].Name)
				}
			}
		})
	}

	page, total, _ := svc.ListTemplates(ctx, TemplateFilter{}, 1, 1)
	if total != 3 || len(page) != 1 || page[0].Name != "Beta ICU" {
		t.Errorf("unexpected page: total=%d items=%d", total, len(page))
	}
}

// -- Sheets --

func TestService_CreateSheet_RecordsUse(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	in := sampleTemplateInput()
	in.Name = "Other Rounds"
	other, err := svc.CreateTemplate(context.Background(), testActor, in)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	const n = 3
	for i := 0; i < n; i++ {
		sheet := createTestSheet(t, svc, tpl)
		if sheet.Status != StatusDraft {
			t.Errorf("expected draft, got %s", sheet.Status)
		}
		if sheet.TemplateName != tpl.Name || len(sheet.Patients) != 0 || sheet.Version != 1 {
			t.Errorf("unexpected new sheet: %+v", sheet)
		}
	}

	reloaded, _ := svc.GetTemplate(context.Background(), tpl.ID)
	if reloaded.UseCount != n {
		t.Errorf("expected use count %d, got %d", n, reloaded.UseCount)
	}
	if reloaded.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	untouched, _ := svc.GetTemplate(context.Background(), other.ID)
	if untouched.UseCount != 0 || untouched.LastUsedAt != nil {
		t.Errorf("unrelated template changed: use_count=%d last_used_at=%v", untouched.UseCount, untouched.LastUsedAt)
	}
}

func TestService_CreateSheet_MissingTemplate(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	createTestSheet(t, svc, tpl)

	_, err := svc.CreateSheet(context.Background(), testActor, SheetInput{TemplateID: uuid.New(), Date: "2025-03-01", Shift: ShiftDay, Unit: "4B"})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	_, total, _ := svc.ListSheets(context.Background(), SheetFilter{}, 0, 0)
	if total != 1 {
		t.Errorf("expected no new sheet, got %d", total)
	}
	reloaded, _ := svc.GetTemplate(context.Background(), tpl.ID)
	if reloaded.UseCount != 1 {
		t.Errorf("failed lookup changed use count to %d", reloaded.UseCount)
	}
}

type failingRecordUse struct {
	TemplateRepository
}

func (failingRecordUse) RecordUse(context.Context, uuid.UUID, time.Time) error {
	return errors.New("counter unavailable")
}

func TestService_CreateSheet_RollsBackOnRecordUseFailure(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(failingRecordUse{store.Templates()}, store.Sheets(), store, zerolog.Nop())
	tpl, err := svc.CreateTemplate(context.Background(), testActor, sampleTemplateInput())
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	if _, err := svc.CreateSheet(context.Background(), testActor, SheetInput{TemplateID: tpl.ID, Date: "2025-03-01", Shift: ShiftDay, Unit: "4B"}); err == nil {
		t.Fatal("expected error")
	}
	_, total, _ := svc.ListSheets(context.Background(), SheetFilter{}, 0, 0)
	if total != 0 {
		t.Errorf("expected sheet creation rolled back, found %d sheets", total)
	}
}

// gatedTemplates parks lookups of one id until release is closed.
type gatedTemplates struct {
	TemplateRepository
	id      uuid.UUID
	entered chan struct{}
	release chan struct{}
}

func (g gatedTemplates) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	if id == g.id {
		close(g.entered)
		<-g.release
	}
	return g.TemplateRepository.GetByID(ctx, id)
}

func TestService_FailedCreateSheetKeepsConcurrentWrites(t *testing.T) {
	store := NewMemoryStore()
	gate := gatedTemplates{
		TemplateRepository: store.Templates(),
		id:                 uuid.New(),
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	svc := NewService(gate, store.Sheets(), store, zerolog.Nop())
	ctx := context.Background()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)

	createErr := make(chan error, 1)
	go func() {
		_, err := svc.CreateSheet(ctx, testActor, SheetInput{TemplateID: gate.id, Date: "2025-03-02", Shift: ShiftDay, Unit: "4B"})
		createErr <- err
	}()
	<-gate.entered

	type result struct {
		sheet *SheetInstance
		err   error
	}
	updated := make(chan result, 1)
	go func() {
		s, err := svc.UpdateEntry(ctx, sheet.ID, 0, "bp", "120/80")
		updated <- result{s, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	if err := <-createErr; !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	res := <-updated
	if res.err != nil {
		t.Fatalf("update entry: %v", res.err)
	}

	got, err := svc.GetSheet(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("get sheet: %v", err)
	}
	if v := GetEntry(got.Patients[0], "bp"); v != "120/80" {
		t.Errorf("acknowledged entry lost after failed create, bp = %q", v)
	}
	if got.Version != res.sheet.Version {
		t.Errorf("expected version %d, got %d", res.sheet.Version, got.Version)
	}
	if _, total, _ := svc.ListSheets(ctx, SheetFilter{}, 0, 0); total != 1 {
		t.Errorf("expected only the original sheet, got %d", total)
	}
}

func TestMemoryStore_NestedTxJoinsOuter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tpl := &Template{Name: "Nested"}

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			return store.Templates().Create(ctx, tpl)
		})
	})
	if err != nil {
		t.Fatalf("nested tx: %v", err)
	}
	if _, err := store.Templates().GetByID(ctx, tpl.ID); err != nil {
		t.Errorf("expected committed template, got %v", err)
	}

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		if err := store.Templates().Delete(ctx, tpl.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.Templates().GetByID(ctx, tpl.ID); err != nil {
		t.Errorf("expected delete rolled back, got %v", err)
	}
}

func TestService_AddPatients(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)

	got := addTestPatients(t, svc, sheet.ID, 2)
	if len(got.Patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(got.Patients))
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in-progress, got %s", got.Status)
	}
	if v := GetEntry(got.Patients[0], "dvt"); v != "false" {
		t.Errorf("expected default value prefilled, got %q", v)
	}
	if HasEntry(got.Patients[0], "bp") {
		t.Error("fields without default must start empty")
	}

	got = addTestPatients(t, svc, sheet.ID, 1)
	if len(got.Patients) != 3 || got.Patients[2].PatientID != "p-1" {
		t.Errorf("expected append at end, got %d patients", len(got.Patients))
	}
}

func TestService_AddPatients_EmptyIsNoop(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)

	got, err := svc.AddPatientsToSheet(context.Background(), sheet.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusDraft || got.Version != sheet.Version {
		t.Errorf("expected untouched sheet, got status=%s version=%d", got.Status, got.Version)
	}
}

func TestService_UpdateEntry(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)
	ctx := context.Background()

	got, err := svc.UpdateEntry(ctx, sheet.ID, 0, "bp", "120/80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if GetEntry(got.Patients[0], "bp") != "120/80" {
		t.Errorf("expected bp recorded, got %v", got.Patients[0].Entries)
	}

	got, err = svc.UpdateEntry(ctx, sheet.ID, 0, "bp", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if HasEntry(got.Patients[0], "bp") {
		t.Error("empty value must remove the entry")
	}

	if _, err := svc.UpdateEntry(ctx, sheet.ID, 5, "bp", "1"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := svc.UpdateEntry(ctx, sheet.ID, -1, "bp", "1"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange for negative index, got %v", err)
	}
	if _, err := svc.UpdateEntry(ctx, uuid.New(), 0, "bp", "1"); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestService_ConcurrentEntryUpdates(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			if _, err := svc.UpdateEntry(context.Background(), sheet.ID, 0, fmt.Sprintf("f-%d", n), "x"); err != nil {
				t.Errorf("writer %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := svc.GetSheet(context.Background(), sheet.ID)
	for i := 0; i < writers; i++ {
		if !HasEntry(got.Patients[0], fmt.Sprintf("f-%d", i)) {
			t.Errorf("lost update for f-%d", i)
		}
	}
}

func TestService_CompletedSheetIsReadOnly(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)
	ctx := context.Background()

	done, err := svc.CompleteSheet(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	if _, err := svc.UpdateEntry(ctx, sheet.ID, 0, "bp", "1"); !errors.Is(err, ErrSheetCompleted) {
		t.Errorf("UpdateEntry: expected ErrSheetCompleted, got %v", err)
	}
	unit := "5C"
	if _, err := svc.UpdateSheet(ctx, sheet.ID, SheetUpdate{Unit: &unit}); !errors.Is(err, ErrSheetCompleted) {
		t.Errorf("UpdateSheet: expected ErrSheetCompleted, got %v", err)
	}
	draft := StatusDraft
	if _, err := svc.UpdateSheet(ctx, sheet.ID, SheetUpdate{Status: &draft}); !errors.Is(err, ErrSheetCompleted) {
		t.Errorf("reopen: expected ErrSheetCompleted, got %v", err)
	}

	again, err := svc.CompleteSheet(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("re-complete should be a no-op, got %v", err)
	}
	if again.Version != done.Version {
		t.Errorf("re-complete must not write, version %d -> %d", done.Version, again.Version)
	}
}

func TestService_UpdateSheet(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	ctx := context.Background()

	night := ShiftNight
	unit := "ICU"
	rows := []PatientRow{{PatientID: "p-9", PatientName: "Walk-in", Entries: []Entry{
		{FieldID: "bp", Value: "1"}, {FieldID: "bp", Value: "2"}, {FieldID: "hr", Value: ""},
	}}}
	got, err := svc.UpdateSheet(ctx, sheet.ID, SheetUpdate{Shift: &night, Unit: &unit, Patients: &rows})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Shift != ShiftNight || got.Unit != "ICU" {
		t.Errorf("fields not merged: %+v", got)
	}
	if got.Version != sheet.Version+1 {
		t.Errorf("expected version %d, got %d", sheet.Version+1, got.Version)
	}
	if len(got.Patients[0].Entries) != 1 || GetEntry(got.Patients[0], "bp") != "2" {
		t.Errorf("expected entries normalized to last value, got %v", got.Patients[0].Entries)
	}
	if got.Date != sheet.Date {
		t.Error("unspecified fields must be unchanged")
	}
}

func TestService_UpdateSheet_VersionConflict(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	ctx := context.Background()

	stale := sheet.Version
	unit := "A"
	if _, err := svc.UpdateSheet(ctx, sheet.ID, SheetUpdate{Unit: &unit, ExpectedVersion: &stale}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	unit = "B"
	_, err := svc.UpdateSheet(ctx, sheet.ID, SheetUpdate{Unit: &unit, ExpectedVersion: &stale})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, _ := svc.GetSheet(ctx, sheet.ID)
	if got.Unit != "A" {
		t.Errorf("conflicting write must not apply, unit=%q", got.Unit)
	}
}

func TestService_UpdateSheet_InvalidEnums(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)

	shift := Shift("swing")
	if _, err := svc.UpdateSheet(context.Background(), sheet.ID, SheetUpdate{Shift: &shift}); !IsValidation(err) {
		t.Errorf("expected validation error for shift, got %v", err)
	}
	status := SheetStatus("archived")
	if _, err := svc.UpdateSheet(context.Background(), sheet.ID, SheetUpdate{Status: &status}); !IsValidation(err) {
		t.Errorf("expected validation error for status, got %v", err)
	}
}

func TestService_DeleteSheet(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)

	if err := svc.DeleteSheet(context.Background(), sheet.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetSheet(context.Background(), sheet.ID); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
	if err := svc.DeleteSheet(context.Background(), sheet.ID); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound on second delete, got %v", err)
	}
	reloaded, _ := svc.GetTemplate(context.Background(), tpl.ID)
	if reloaded.UseCount != 1 {
		t.Errorf("use count must not decrement, got %d", reloaded.UseCount)
	}
}

func TestService_ListSheets_Order(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	ctx := context.Background()

	for _, date := range []string{"2025-03-01", "2025-03-03", "2025-03-02"} {
		if _, err := svc.CreateSheet(ctx, testActor, SheetInput{TemplateID: tpl.ID, Date: date, Shift: ShiftDay, Unit: "4B"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	items, total, err := svc.ListSheets(ctx, SheetFilter{Unit: "4b"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 sheets, got %d", total)
	}
	if items[0].Date != "2025-03-03" || items[2].Date != "2025-03-01" {
		t.Errorf("expected newest date first, got %s..%s", items[0].Date, items[2].Date)
	}
}

// -- Progress --

type recordingCache struct {
	values map[string]int
	gets   int
}

func (c *recordingCache) Get(_ context.Context, key string) (int, bool) {
	c.gets++
	v, ok := c.values[key]
	return v, ok
}

func (c *recordingCache) Set(_ context.Context, key string, p int) { c.values[key] = p }

func TestService_SheetProgress(t *testing.T) {
	svc, _ := newTestService()
	cache := &recordingCache{values: map[string]int{}}
	svc.SetProgressCache(cache)
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 2)
	ctx := context.Background()

	for _, e := range []struct {
		idx   int
		field string
	}{{0, "bp"}, {0, "hr"}, {1, "bp"}} {
		if _, err := svc.UpdateEntry(ctx, sheet.ID, e.idx, e.field, "ok"); err != nil {
			t.Fatalf("update entry: %v", err)
		}
	}

	summary, err := svc.SheetProgress(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Progress != 75 {
		t.Errorf("expected 75%%, got %d", summary.Progress)
	}
	if summary.Patients != 2 || summary.RequiredFields != 2 || summary.Status != StatusInProgress {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(cache.values) != 1 {
		t.Errorf("expected progress cached once, got %d keys", len(cache.values))
	}

	for k := range cache.values {
		cache.values[k] = 42
	}
	summary, _ = svc.SheetProgress(ctx, sheet.ID)
	if summary.Progress != 42 {
		t.Errorf("expected cached value to be served, got %d", summary.Progress)
	}

	if _, err := svc.UpdateEntry(ctx, sheet.ID, 1, "hr", "ok"); err != nil {
		t.Fatalf("update entry: %v", err)
	}
	summary, _ = svc.SheetProgress(ctx, sheet.ID)
	if summary.Progress != 100 {
		t.Errorf("new version must miss the cache, got %d", summary.Progress)
	}
}

func TestService_SheetProgress_TemplateDeleted(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	if err := svc.DeleteTemplate(context.Background(), tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.SheetProgress(context.Background(), sheet.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

// -- Auto-populate --

type fakeProvider struct {
	values map[string]string // dataSource -> value
	calls  []string
	err    error
}

func (p *fakeProvider) Resolve(_ context.Context, dataSource, patientID string) (string, bool, error) {
	p.calls = append(p.calls, dataSource)
	if p.err != nil {
		return "", false, p.err
	}
	v, ok := p.values[dataSource]
	return v, ok, nil
}

func TestService_AutoPopulate(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)
	ctx := context.Background()

	if _, _, err := svc.AutoPopulate(ctx, sheet.ID, 0); !errors.Is(err, ErrNoDataProvider) {
		t.Fatalf("expected ErrNoDataProvider, got %v", err)
	}

	provider := &fakeProvider{values: map[string]string{"vitals.bp": "130/85", "vitals.hr": "72"}}
	svc.SetDataProvider(provider)

	if _, err := svc.UpdateEntry(ctx, sheet.ID, 0, "hr", "90"); err != nil {
		t.Fatalf("update entry: %v", err)
	}

	got, filled, err := svc.AutoPopulate(ctx, sheet.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filled) != 1 || filled[0] != "bp" {
		t.Errorf("expected only bp filled, got %v", filled)
	}
	if GetEntry(got.Patients[0], "bp") != "130/85" {
		t.Errorf("expected bp from provider, got %q", GetEntry(got.Patients[0], "bp"))
	}
	if GetEntry(got.Patients[0], "hr") != "90" {
		t.Errorf("existing value must not be overwritten, got %q", GetEntry(got.Patients[0], "hr"))
	}

	before := got.Version
	got, filled, err = svc.AutoPopulate(ctx, sheet.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filled) != 0 || got.Version != before {
		t.Errorf("nothing to fill must not write, filled=%v version %d -> %d", filled, before, got.Version)
	}
}

func TestService_AutoPopulate_ProviderError(t *testing.T) {
	svc, _ := newTestService()
	svc.SetDataProvider(&fakeProvider{err: errors.New("feed offline")})
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	addTestPatients(t, svc, sheet.ID, 1)

	if _, _, err := svc.AutoPopulate(context.Background(), sheet.ID, 0); err == nil {
		t.Error("expected provider error to surface")
	}
}

// -- Export --

type fakeExporter struct {
	tpl    *Template
	called bool
}

func (e *fakeExporter) Export(_ context.Context, sheet *SheetInstance, tpl *Template, format ExportFormat) (*ExportArtifact, error) {
	e.called = true
	e.tpl = tpl
	return &ExportArtifact{SheetID: sheet.ID, FileName: "sheet." + string(format), ContentType: "application/pdf", BlobID: "blob-1", Data: []byte("%PDF-")}, nil
}

type fakeQueue struct {
	sheetID     uuid.UUID
	requestedBy string
}

func (q *fakeQueue) EnqueueExport(_ context.Context, sheetID uuid.UUID, _ ExportFormat, requestedBy string) (string, error) {
	q.sheetID = sheetID
	q.requestedBy = requestedBy
	return "job-1", nil
}

func TestService_ExportSheet(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	ctx := context.Background()

	if _, err := svc.ExportToPDF(ctx, sheet.ID); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("expected ErrExportUnavailable, got %v", err)
	}

	exp := &fakeExporter{}
	svc.SetExporter(exp)
	art, err := svc.ExportToPDF(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if art.SheetID != sheet.ID || exp.tpl == nil || exp.tpl.ID != tpl.ID {
		t.Errorf("expected export with template, got %+v", art)
	}

	if err := svc.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := svc.ExportToPDF(ctx, sheet.ID); err != nil {
		t.Fatalf("export after template deletion: %v", err)
	}
	if exp.tpl != nil {
		t.Error("expected nil template once deleted")
	}

	if _, err := svc.ExportToPDF(ctx, uuid.New()); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestService_EnqueueExport(t *testing.T) {
	svc, _ := newTestService()
	tpl := createTestTemplate(t, svc)
	sheet := createTestSheet(t, svc, tpl)
	ctx := context.Background()

	if _, err := svc.EnqueueExport(ctx, testActor, sheet.ID, FormatPDF); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("expected ErrExportUnavailable, got %v", err)
	}

	q := &fakeQueue{}
	svc.SetExportQueue(q)
	id, err := svc.EnqueueExport(ctx, testActor, sheet.ID, FormatXLSX)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "job-1" || q.sheetID != sheet.ID || q.requestedBy != testActor.ID {
		t.Errorf("unexpected enqueue: id=%s queue=%+v", id, q)
	}
	if _, err := svc.EnqueueExport(ctx, testActor, uuid.New(), FormatPDF); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}
