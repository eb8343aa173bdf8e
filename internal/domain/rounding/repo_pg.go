package rounding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rounding/internal/platform/db"
)

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const templateCols = `id, name, description, sections, created_by, created_by_name, created_at, updated_at,
	is_shared, is_default, specialty, tags, use_count, last_used_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var sections []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &sections, &t.CreatedBy, &t.CreatedByName,
		&t.CreatedAt, &t.UpdatedAt, &t.IsShared, &t.IsDefault, &t.Specialty, &t.Tags,
		&t.UseCount, &t.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(sections, &t.Sections); err != nil {
		return nil, fmt.Errorf("decode sections for template %s: %w", t.ID, err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO rounding_template (id, name, description, sections, created_by, created_by_name,
			created_at, updated_at, is_shared, is_default, specialty, tags, use_count, last_used_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.Name, t.Description, sections, t.CreatedBy, t.CreatedByName,
		t.CreatedAt, t.UpdatedAt, t.IsShared, t.IsDefault, t.Specialty, nonNilTags(t.Tags),
		t.UseCount, t.LastUsedAt)
	return err
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	return r.scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM rounding_template WHERE id = $1`, id))
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rounding_template SET name=$2, description=$3, sections=$4, is_shared=$5,
			specialty=$6, tags=$7, updated_at=$8
		WHERE id = $1`,
		t.ID, t.Name, t.Description, sections, t.IsShared, t.Specialty, nonNilTags(t.Tags), t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rounding_template WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) List(ctx context.Context, filter TemplateFilter, limit, offset int) ([]*Template, int, error) {
	query := `SELECT ` + templateCols + ` FROM rounding_template WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM rounding_template WHERE 1=1`
	var args []interface{}
	idx := 1
	if filter.Specialty != "" {
		query += fmt.Sprintf(` AND lower(specialty) = lower($%d)`, idx)
		countQuery += fmt.Sprintf(` AND lower(specialty) = lower($%d)`, idx)
		args = append(args, filter.Specialty)
		idx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(` AND lower($%d) = ANY(tags)`, idx)
		countQuery += fmt.Sprintf(` AND lower($%d) = ANY(tags)`, idx)
		args = append(args, filter.Tag)
		idx++
	}
	if filter.SharedOnly {
		query += ` AND (is_shared OR is_default)`
		countQuery += ` AND (is_shared OR is_default)`
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%'`, idx)
		countQuery += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%'`, idx)
		args = append(args, filter.Query)
		idx++
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query += fmt.Sprintf(` ORDER BY lower(name), id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limitArg(limit), offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*Template{}
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *templateRepoPG) RecordUse(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rounding_template SET use_count = use_count + 1, last_used_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// =========== Sheet Repository ===========

type sheetRepoPG struct{ pool *pgxpool.Pool }

func NewSheetRepoPG(pool *pgxpool.Pool) SheetRepository {
	return &sheetRepoPG{pool: pool}
}

func (r *sheetRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sheetCols = `id, template_id, template_name, sheet_date, shift, unit, patients, created_by,
	created_by_name, created_at, updated_at, status, version`

func (r *sheetRepoPG) scanSheet(row pgx.Row) (*SheetInstance, error) {
	var s SheetInstance
	var patients []byte
	err := row.Scan(&s.ID, &s.TemplateID, &s.TemplateName, &s.Date, &s.Shift, &s.Unit, &patients,
		&s.CreatedBy, &s.CreatedByName, &s.CreatedAt, &s.UpdatedAt, &s.Status, &s.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSheetNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(patients, &s.Patients); err != nil {
		return nil, fmt.Errorf("decode patients for sheet %s: %w", s.ID, err)
	}
	if s.Patients == nil {
		s.Patients = []PatientRow{}
	}
	return &s, nil
}

func (r *sheetRepoPG) Create(ctx context.Context, s *SheetInstance) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	patients, err := encodePatients(s.Patients)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO rounding_sheet (id, template_id, template_name, sheet_date, shift, unit, patients,
			created_by, created_by_name, created_at, updated_at, status, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.ID, s.TemplateID, s.TemplateName, s.Date, s.Shift, s.Unit, patients,
		s.CreatedBy, s.CreatedByName, s.CreatedAt, s.UpdatedAt, s.Status, s.Version)
	return err
}

func (r *sheetRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SheetInstance, error) {
	return r.scanSheet(r.conn(ctx).QueryRow(ctx, `SELECT `+sheetCols+` FROM rounding_sheet WHERE id = $1`, id))
}

// Update is a compare-and-set on version. A miss is reported as NotFound when the
// row is gone and as a conflict otherwise.
func (r *sheetRepoPG) Update(ctx context.Context, s *SheetInstance, expectedVersion int) error {
	patients, err := encodePatients(s.Patients)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rounding_sheet SET sheet_date=$2, shift=$3, unit=$4, patients=$5, status=$6,
			updated_at=$7, version = version + 1
		WHERE id = $1 AND version = $8`,
		s.ID, s.Date, s.Shift, s.Unit, patients, s.Status, s.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rounding_sheet WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrSheetNotFound
		}
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *sheetRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rounding_sheet WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSheetNotFound
	}
	return nil
}

func (r *sheetRepoPG) List(ctx context.Context, filter SheetFilter, limit, offset int) ([]*SheetInstance, int, error) {
	query := `SELECT ` + sheetCols + ` FROM rounding_sheet WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM rounding_sheet WHERE 1=1`
	var args []interface{}
	idx := 1
	if filter.Unit != "" {
		query += fmt.Sprintf(` AND lower(unit) = lower($%d)`, idx)
		countQuery += fmt.Sprintf(` AND lower(unit) = lower($%d)`, idx)
		args = append(args, filter.Unit)
		idx++
	}
	if filter.Date != "" {
		query += fmt.Sprintf(` AND sheet_date = $%d`, idx)
		countQuery += fmt.Sprintf(` AND sheet_date = $%d`, idx)
		args = append(args, filter.Date)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.TemplateID != uuid.Nil {
		query += fmt.Sprintf(` AND template_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND template_id = $%d`, idx)
		args = append(args, filter.TemplateID)
		idx++
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query += fmt.Sprintf(` ORDER BY sheet_date DESC, created_at DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limitArg(limit), offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*SheetInstance{}
	for rows.Next() {
		s, err := r.scanSheet(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sheetRepoPG) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rounding_sheet WHERE template_id = $1`, templateID).Scan(&n)
	return n, err
}

func encodePatients(p []PatientRow) ([]byte, error) {
	if p == nil {
		p = []PatientRow{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patients: %w", err)
	}
	return b, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}
