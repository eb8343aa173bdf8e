package rounding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns every write to templates and sheets. Sheet writes are serialized
// per sheet in-process and persisted with a version check, so a concurrent
// writer in another process surfaces as ErrVersionConflict instead of a lost update.
type Service struct {
	templates TemplateRepository
	sheets    SheetRepository
	tx        Transactor
	cache     ProgressCache
	provider  ClinicalDataProvider
	exporter  Exporter
	queue     ExportQueue
	logger    zerolog.Logger
	now       func() time.Time

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewService(templates TemplateRepository, sheets SheetRepository, tx Transactor, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = directTx{}
	}
	return &Service{
		templates: templates,
		sheets:    sheets,
		tx:        tx,
		cache:     nopProgressCache{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// SetProgressCache attaches a progress cache. nil restores the no-op cache.
func (s *Service) SetProgressCache(c ProgressCache) {
	if c == nil {
		c = nopProgressCache{}
	}
	s.cache = c
}

// SetDataProvider attaches the clinical data provider used by AutoPopulate.
func (s *Service) SetDataProvider(p ClinicalDataProvider) { s.provider = p }

// SetExporter attaches the export renderer.
func (s *Service) SetExporter(e Exporter) { s.exporter = e }

// SetExportQueue attaches the background export queue.
func (s *Service) SetExportQueue(q ExportQueue) { s.queue = q }

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Service) sheetLock(id uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// -- Templates --

func (s *Service) ListTemplates(ctx context.Context, filter TemplateFilter, limit, offset int) ([]*Template, int, error) {
	return s.templates.List(ctx, filter, limit, offset)
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.templates.GetByID(ctx, id)
}

// CreateTemplate stores a new user template. Name presence is checked by callers.
func (s *Service) CreateTemplate(ctx context.Context, actor Actor, in TemplateInput) (*Template, error) {
	return s.createTemplate(ctx, actor, in, false)
}

func (s *Service) createTemplate(ctx context.Context, actor Actor, in TemplateInput, isDefault bool) (*Template, error) {
	sections, err := prepareSections(in.Sections)
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &Template{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Sections:      sections,
		CreatedBy:     actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsShared:      in.IsShared,
		IsDefault:     isDefault,
		Specialty:     cleanSpecialty(in.Specialty),
		Tags:          normalizeTags(in.Tags),
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.logger.Info().Str("template_id", t.ID.String()).Str("name", t.Name).Bool("default", isDefault).Msg("rounding template created")
	return t, nil
}

// UpdateTemplate merges upd over the stored template. Ownership, usage counters
// and the default flag are not updatable.
func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, upd TemplateUpdate) (*Template, error) {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		t.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Sections != nil {
		sections, err := prepareSections(*upd.Sections)
		if err != nil {
			return nil, err
		}
		t.Sections = sections
	}
	if upd.IsShared != nil {
		t.IsShared = *upd.IsShared
	}
	if upd.Specialty != nil {
		t.Specialty = cleanSpecialty(upd.Specialty)
	}
	if upd.Tags != nil {
		t.Tags = normalizeTags(*upd.Tags)
	}
	t.UpdatedAt = s.now()
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate removes a user template. Sheets created from it are left in place.
func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.IsDefault {
		return ErrProtectedTemplate
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return err
	}
	n, err := s.sheets.CountByTemplate(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("template_id", id.String()).Msg("count sheets for deleted template")
		return nil
	}
	ev := s.logger.Info().Str("template_id", id.String())
	if n > 0 {
		ev = ev.Int("dangling_sheets", n)
	}
	ev.Msg("rounding template deleted")
	return nil
}

// CloneTemplate deep-copies a template under a new id owned by actor.
func (s *Service) CloneTemplate(ctx context.Context, actor Actor, id uuid.UUID) (*Template, error) {
	src, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	c := src.Clone()
	c.ID = uuid.New()
	c.Name = src.Name + " (Copy)"
	c.CreatedBy = actor.ID
	c.CreatedByName = actor.Name
	c.CreatedAt = now
	c.UpdatedAt = now
	c.IsShared = false
	c.IsDefault = false
	c.UseCount = 0
	c.LastUsedAt = nil
	if err := s.templates.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("clone template: %w", err)
	}
	return c, nil
}

// SeedDefaults installs the system templates that are not present yet and
// returns how many were created.
func (s *Service) SeedDefaults(ctx context.Context, actor Actor) (int, error) {
	existing, _, err := s.templates.List(ctx, TemplateFilter{}, 0, 0)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.IsDefault {
			have[strings.ToLower(t.Name)] = true
		}
	}
	created := 0
	for _, in := range DefaultTemplates() {
		if have[strings.ToLower(in.Name)] {
			continue
		}
		if _, err := s.createTemplate(ctx, actor, in, true); err != nil {
			return created, fmt.Errorf("seed %q: %w", in.Name, err)
		}
		created++
	}
	return created, nil
}

// -- Sheets --

func (s *Service) ListSheets(ctx context.Context, filter SheetFilter, limit, offset int) ([]*SheetInstance, int, error) {
	return s.sheets.List(ctx, filter, limit, offset)
}

func (s *Service) GetSheet(ctx context.Context, id uuid.UUID) (*SheetInstance, error) {
	return s.sheets.GetByID(ctx, id)
}

// CreateSheet issues a draft sheet from a template and records the template use.
// Both writes commit together, so the use count moves only on success.
func (s *Service) CreateSheet(ctx context.Context, actor Actor, in SheetInput) (*SheetInstance, error) {
	var sheet *SheetInstance
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		tpl, err := s.templates.GetByID(ctx, in.TemplateID)
		if err != nil {
			return err
		}
		now := s.now()
		sheet = &SheetInstance{
			ID:            uuid.New(),
			TemplateID:    tpl.ID,
			TemplateName:  tpl.Name,
			Date:          in.Date,
			Shift:         in.Shift,
			Unit:          in.Unit,
			Patients:      []PatientRow{},
			CreatedBy:     actor.ID,
			CreatedByName: actor.Name,
			CreatedAt:     now,
			UpdatedAt:     now,
			Status:        StatusDraft,
			Version:       1,
		}
		if err := s.sheets.Create(ctx, sheet); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
		return s.templates.RecordUse(ctx, tpl.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("sheet_id", sheet.ID.String()).Str("template_id", sheet.TemplateID.String()).
		Str("unit", sheet.Unit).Str("date", sheet.Date).Msg("rounding sheet created")
	return sheet, nil
}

// UpdateSheet merges upd over the stored sheet. A completed sheet rejects every
// change; re-completing it is a no-op.
func (s *Service) UpdateSheet(ctx context.Context, id uuid.UUID, upd SheetUpdate) (*SheetInstance, error) {
	if upd.Shift != nil && !upd.Shift.Valid() {
		return nil, &ValidationError{Field: "shift", Message: "must be one of: day evening night"}
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be one of: draft in-progress completed"}
	}

	mu := s.sheetLock(id)
	mu.Lock()
	defer mu.Unlock()

	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.ExpectedVersion != nil && *upd.ExpectedVersion != sheet.Version {
		return nil, ErrVersionConflict
	}
	if sheet.Status == StatusCompleted {
		if isCompleteOnly(upd) {
			return sheet, nil
		}
		return nil, ErrSheetCompleted
	}

	prev := sheet.Status
	if upd.Date != nil {
		sheet.Date = *upd.Date
	}
	if upd.Shift != nil {
		sheet.Shift = *upd.Shift
	}
	if upd.Unit != nil {
		sheet.Unit = *upd.Unit
	}
	if upd.Patients != nil {
		rows := clonePatients(*upd.Patients)
		if rows == nil {
			rows = []PatientRow{}
		}
		for i := range rows {
			rows[i].Entries = normalizeEntries(rows[i].Entries)
		}
		sheet.Patients = rows
	}
	if upd.Status != nil {
		sheet.Status = *upd.Status
	}
	if err := s.saveSheet(ctx, sheet); err != nil {
		return nil, err
	}
	if sheet.Status != prev {
		s.logger.Info().Str("sheet_id", id.String()).Str("from", string(prev)).Str("to", string(sheet.Status)).Msg("rounding sheet status changed")
	}
	return sheet, nil
}

func isCompleteOnly(upd SheetUpdate) bool {
	return upd.Status != nil && *upd.Status == StatusCompleted &&
		upd.Date == nil && upd.Shift == nil && upd.Unit == nil && upd.Patients == nil
}

// CompleteSheet moves the sheet to its terminal state.
func (s *Service) CompleteSheet(ctx context.Context, id uuid.UUID) (*SheetInstance, error) {
	status := StatusCompleted
	return s.UpdateSheet(ctx, id, SheetUpdate{Status: &status})
}

// DeleteSheet removes a sheet. The template's use count is not decremented.
func (s *Service) DeleteSheet(ctx context.Context, id uuid.UUID) error {
	if err := s.sheets.Delete(ctx, id); err != nil {
		return err
	}
	s.locks.Delete(id)
	return nil
}

// AddPatientsToSheet appends roster rows, pre-filling template default values.
// A draft sheet becomes in-progress; other statuses are kept.
func (s *Service) AddPatientsToSheet(ctx context.Context, id uuid.UUID, patients []PatientInput) (*SheetInstance, error) {
	mu := s.sheetLock(id)
	mu.Lock()
	defer mu.Unlock()

	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return sheet, nil
	}
	tpl, err := s.templates.GetByID(ctx, sheet.TemplateID)
	if err != nil && !errors.Is(err, ErrTemplateNotFound) {
		return nil, err
	}
	for _, p := range patients {
		sheet.Patients = append(sheet.Patients, newPatientRow(p, tpl))
	}
	prev := sheet.Status
	if sheet.Status == StatusDraft {
		sheet.Status = StatusInProgress
	}
	if err := s.saveSheet(ctx, sheet); err != nil {
		return nil, err
	}
	ev := s.logger.Info().Str("sheet_id", id.String()).Int("added", len(patients)).Int("patients", len(sheet.Patients))
	if prev != sheet.Status {
		ev = ev.Str("status", string(sheet.Status))
	}
	ev.Msg("patients added to rounding sheet")
	return sheet, nil
}

// UpdateEntry sets one cell. An empty value removes the entry.
func (s *Service) UpdateEntry(ctx context.Context, id uuid.UUID, patientIndex int, fieldID, value string) (*SheetInstance, error) {
	if fieldID == "" {
		return nil, &ValidationError{Field: "field_id", Message: "is required"}
	}
	mu := s.sheetLock(id)
	mu.Lock()
	defer mu.Unlock()

	sheet, err := s.editableSheet(ctx, id, patientIndex)
	if err != nil {
		return nil, err
	}
	sheet.Patients[patientIndex] = SetEntry(sheet.Patients[patientIndex], fieldID, value)
	if err := s.saveSheet(ctx, sheet); err != nil {
		return nil, err
	}
	return sheet, nil
}

// AutoPopulate fills empty fields that declare a data source from the clinical
// data provider. Fields with a value are left alone and provider misses are skipped.
// It returns the sheet and the ids of the fields it filled.
func (s *Service) AutoPopulate(ctx context.Context, id uuid.UUID, patientIndex int) (*SheetInstance, []string, error) {
	if s.provider == nil {
		return nil, nil, ErrNoDataProvider
	}
	mu := s.sheetLock(id)
	mu.Lock()
	defer mu.Unlock()

	sheet, err := s.editableSheet(ctx, id, patientIndex)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := s.templates.GetByID(ctx, sheet.TemplateID)
	if err != nil {
		return nil, nil, err
	}

	row := sheet.Patients[patientIndex]
	filled := []string{}
	for _, sec := range tpl.Sections {
		for _, f := range sec.Fields {
			if f.DataSource == nil || *f.DataSource == "" || HasEntry(row, f.ID) {
				continue
			}
			v, ok, err := s.provider.Resolve(ctx, *f.DataSource, row.PatientID)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve %s: %w", *f.DataSource, err)
			}
			if !ok || v == "" {
				continue
			}
			row = SetEntry(row, f.ID, v)
			filled = append(filled, f.ID)
		}
	}
	if len(filled) == 0 {
		return sheet, filled, nil
	}
	sheet.Patients[patientIndex] = row
	if err := s.saveSheet(ctx, sheet); err != nil {
		return nil, nil, err
	}
	return sheet, filled, nil
}

func (s *Service) editableSheet(ctx context.Context, id uuid.UUID, patientIndex int) (*SheetInstance, error) {
	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sheet.Status == StatusCompleted {
		return nil, ErrSheetCompleted
	}
	if patientIndex < 0 || patientIndex >= len(sheet.Patients) {
		return nil, indexError("patient", patientIndex, len(sheet.Patients))
	}
	return sheet, nil
}

func (s *Service) saveSheet(ctx context.Context, sheet *SheetInstance) error {
	sheet.UpdatedAt = s.now()
	return s.sheets.Update(ctx, sheet, sheet.Version)
}

// -- Progress & export --

// SheetProgress computes completion against the sheet's template. A sheet whose
// template was deleted reports ErrTemplateNotFound.
func (s *Service) SheetProgress(ctx context.Context, id uuid.UUID) (*ProgressSummary, error) {
	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.GetByID(ctx, sheet.TemplateID)
	if err != nil {
		return nil, err
	}
	key := progressKey(sheet, tpl)
	p, ok := s.cache.Get(ctx, key)
	if !ok {
		p = Progress(sheet, tpl)
		s.cache.Set(ctx, key, p)
	}
	return &ProgressSummary{
		SheetID:        sheet.ID.String(),
		Progress:       p,
		Patients:       len(sheet.Patients),
		RequiredFields: len(tpl.RequiredFields()),
		Status:         sheet.Status,
	}, nil
}

// ExportSheet renders the sheet. A deleted template does not block the export.
func (s *Service) ExportSheet(ctx context.Context, id uuid.UUID, format ExportFormat) (*ExportArtifact, error) {
	if s.exporter == nil {
		return nil, ErrExportUnavailable
	}
	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.GetByID(ctx, sheet.TemplateID)
	if err != nil {
		if !errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		tpl = nil
	}
	art, err := s.exporter.Export(ctx, sheet, tpl, format)
	if err != nil {
		return nil, fmt.Errorf("export sheet %s: %w", id, err)
	}
	s.logger.Info().Str("sheet_id", id.String()).Str("format", string(format)).Str("blob_id", art.BlobID).Msg("rounding sheet exported")
	return art, nil
}

// ExportToPDF is the synchronous PDF export of a sheet.
func (s *Service) ExportToPDF(ctx context.Context, id uuid.UUID) (*ExportArtifact, error) {
	return s.ExportSheet(ctx, id, FormatPDF)
}

// EnqueueExport schedules a background export and returns the job id.
func (s *Service) EnqueueExport(ctx context.Context, actor Actor, id uuid.UUID, format ExportFormat) (string, error) {
	if s.queue == nil {
		return "", ErrExportUnavailable
	}
	if _, err := s.sheets.GetByID(ctx, id); err != nil {
		return "", err
	}
	return s.queue.EnqueueExport(ctx, id, format, actor.ID)
}

func cleanSpecialty(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
