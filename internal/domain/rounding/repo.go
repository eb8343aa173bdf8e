package rounding

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter TemplateFilter, limit, offset int) ([]*Template, int, error)
	// RecordUse increments use_count and stamps last_used_at in a single write.
	RecordUse(ctx context.Context, id uuid.UUID, at time.Time) error
}

type SheetRepository interface {
	Create(ctx context.Context, s *SheetInstance) error
	GetByID(ctx context.Context, id uuid.UUID) (*SheetInstance, error)
	// Update persists s only if the stored version equals expectedVersion, then bumps s.Version.
	Update(ctx context.Context, s *SheetInstance, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter SheetFilter, limit, offset int) ([]*SheetInstance, int, error)
	CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error)
}

// Transactor runs fn so that every repository write inside it commits or rolls back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ClinicalDataProvider resolves an auto-populate key such as "vitals.bp" for a patient.
// ok is false when the source has no current value.
type ClinicalDataProvider interface {
	Resolve(ctx context.Context, dataSource, patientID string) (value string, ok bool, err error)
}

// ProgressCache memoizes progress per sheet version and template revision.
type ProgressCache interface {
	Get(ctx context.Context, key string) (int, bool)
	Set(ctx context.Context, key string, progress int)
}

type nopProgressCache struct{}

func (nopProgressCache) Get(context.Context, string) (int, bool) { return 0, false }
func (nopProgressCache) Set(context.Context, string, int)        {}
