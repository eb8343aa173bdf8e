package rounding

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps templates and sheets in process memory. It backs both
// repositories and implements Transactor by snapshotting state and restoring
// it when the transaction function fails. Writes made outside a transaction
// wait for any running transaction to finish, so a rollback never discards
// them.
type MemoryStore struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	templates map[uuid.UUID]*Template
	sheets    map[uuid.UUID]*SheetInstance
}

// memTxKey marks a context as running inside MemoryStore.WithinTx.
type memTxKey struct{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[uuid.UUID]*Template),
		sheets:    make(map[uuid.UUID]*SheetInstance),
	}
}

func (m *MemoryStore) Templates() TemplateRepository { return memoryTemplateRepo{m} }
func (m *MemoryStore) Sheets() SheetRepository       { return memorySheetRepo{m} }

func (m *MemoryStore) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemoryStore)
	return owner == m
}

// WithinTx runs fn with a context that marks the transaction. Nested calls
// join the outer transaction.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	templates := make(map[uuid.UUID]*Template, len(m.templates))
	for id, t := range m.templates {
		templates[id] = t.Clone()
	}
	sheets := make(map[uuid.UUID]*SheetInstance, len(m.sheets))
	for id, s := range m.sheets {
		sheets[id] = s.Clone()
	}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		m.mu.Lock()
		m.templates = templates
		m.sheets = sheets
		m.mu.Unlock()
		return err
	}
	return nil
}

// lockWrite takes the write lock. Outside a transaction it first waits for
// the running transaction so its rollback snapshot stays current.
func (m *MemoryStore) lockWrite(ctx context.Context) func() {
	if m.inTx(ctx) {
		m.mu.Lock()
		return m.mu.Unlock
	}
	m.txMu.Lock()
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.txMu.Unlock()
	}
}

// =========== Templates ===========

type memoryTemplateRepo struct{ m *MemoryStore }

func (r memoryTemplateRepo) Create(ctx context.Context, t *Template) error {
	defer r.m.lockWrite(ctx)()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.m.templates[t.ID] = t.Clone()
	return nil
}

func (r memoryTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t.Clone(), nil
}

func (r memoryTemplateRepo) Update(ctx context.Context, t *Template) error {
	defer r.m.lockWrite(ctx)()
	if _, ok := r.m.templates[t.ID]; !ok {
		return ErrTemplateNotFound
	}
	r.m.templates[t.ID] = t.Clone()
	return nil
}

func (r memoryTemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.m.lockWrite(ctx)()
	if _, ok := r.m.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(r.m.templates, id)
	return nil
}

func (r memoryTemplateRepo) List(_ context.Context, filter TemplateFilter, limit, offset int) ([]*Template, int, error) {
	r.m.mu.RLock()
	var items []*Template
	for _, t := range r.m.templates {
		if matchTemplate(t, filter) {
			items = append(items, t.Clone())
		}
	}
	r.m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a != b {
			return a < b
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return page(items, limit, offset), len(items), nil
}

func (r memoryTemplateRepo) RecordUse(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.m.lockWrite(ctx)()
	t, ok := r.m.templates[id]
	if !ok {
		return ErrTemplateNotFound
	}
	t.UseCount++
	used := at
	t.LastUsedAt = &used
	return nil
}

func matchTemplate(t *Template, f TemplateFilter) bool {
	if f.Specialty != "" && (t.Specialty == nil || !strings.EqualFold(*t.Specialty, f.Specialty)) {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range t.Tags {
			if strings.EqualFold(tag, f.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SharedOnly && !t.IsShared && !t.IsDefault {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// =========== Sheets ===========

type memorySheetRepo struct{ m *MemoryStore }

func (r memorySheetRepo) Create(ctx context.Context, s *SheetInstance) error {
	defer r.m.lockWrite(ctx)()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	r.m.sheets[s.ID] = s.Clone()
	return nil
}

func (r memorySheetRepo) GetByID(_ context.Context, id uuid.UUID) (*SheetInstance, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.sheets[id]
	if !ok {
		return nil, ErrSheetNotFound
	}
	return s.Clone(), nil
}

func (r memorySheetRepo) Update(ctx context.Context, s *SheetInstance, expectedVersion int) error {
	defer r.m.lockWrite(ctx)()
	cur, ok := r.m.sheets[s.ID]
	if !ok {
		return ErrSheetNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	r.m.sheets[s.ID] = s.Clone()
	return nil
}

func (r memorySheetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.m.lockWrite(ctx)()
	if _, ok := r.m.sheets[id]; !ok {
		return ErrSheetNotFound
	}
	delete(r.m.sheets, id)
	return nil
}

func (r memorySheetRepo) List(_ context.Context, filter SheetFilter, limit, offset int) ([]*SheetInstance, int, error) {
	r.m.mu.RLock()
	var items []*SheetInstance
	for _, s := range r.m.sheets {
		if matchSheet(s, filter) {
			items = append(items, s.Clone())
		}
	}
	r.m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return page(items, limit, offset), len(items), nil
}

func (r memorySheetRepo) CountByTemplate(_ context.Context, templateID uuid.UUID) (int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	n := 0
	for _, s := range r.m.sheets {
		if s.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func matchSheet(s *SheetInstance, f SheetFilter) bool {
	if f.Unit != "" && !strings.EqualFold(s.Unit, f.Unit) {
		return false
	}
	if f.Date != "" && s.Date != f.Date {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.TemplateID != uuid.Nil && s.TemplateID != f.TemplateID {
		return false
	}
	return true
}

// page applies limit/offset to an already sorted slice. A non-positive limit returns everything after offset.
func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
