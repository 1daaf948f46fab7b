package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
)

// MemoryStore keeps all three documents in process. It backs tests and the
// "memory" storage backend.
type MemoryStore struct {
	analysis     *memoryAnalysis
	observations *memoryObservations
	signals      *memorySignals
}

// NewMemoryStore creates an empty store whose observation ring holds limit entries.
func NewMemoryStore(observationLimit int) *MemoryStore {
	return &MemoryStore{
		analysis:     &memoryAnalysis{records: make(map[string]*models.AnalysisRecord)},
		observations: &memoryObservations{limit: observationLimit},
		signals:      &memorySignals{byID: make(map[string]*models.Signal)},
	}
}

func (s *MemoryStore) Analysis() repository.AnalysisMemory      { return s.analysis }
func (s *MemoryStore) Observations() repository.ObservationList { return s.observations }
func (s *MemoryStore) Signals() repository.SignalStore          { return s.signals }
func (s *MemoryStore) Close() error                             { return nil }

type memoryAnalysis struct {
	mu      sync.Mutex
	records map[string]*models.AnalysisRecord
}

func (m *memoryAnalysis) Get(_ context.Context, symbol string) (*models.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[symbol]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memoryAnalysis) List(_ context.Context) ([]models.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AnalysisRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryAnalysis) Update(_ context.Context, symbol string, fn func(*models.AnalysisRecord) (*models.AnalysisRecord, error)) (*models.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(m.records[symbol].Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("update %s: nil record", symbol)
	}
	next = next.Clone()
	next.Symbol = symbol
	m.records[symbol] = next
	return next.Clone(), nil
}

// memoryObservations keeps entries ordered from least to most recently touched.
type memoryObservations struct {
	mu      sync.Mutex
	limit   int
	entries []models.ObservationEntry
}

func (m *memoryObservations) Touch(_ context.Context, symbol, reason string, at time.Time) (*models.ObservationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := models.ObservationEntry{Symbol: symbol, AddedTime: at}
	for i := range m.entries {
		if m.entries[i].Symbol == symbol {
			entry = m.entries[i]
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	entry.Reason = reason
	entry.LastCheckedTime = at
	entry.CheckCount++

	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.limit; m.limit > 0 && over > 0 {
		m.entries = append([]models.ObservationEntry(nil), m.entries[over:]...)
	}
	out := entry
	return &out, nil
}

// List returns the most recently touched entry first.
func (m *memoryObservations) List(_ context.Context) ([]models.ObservationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ObservationEntry, len(m.entries))
	for i := range m.entries {
		out[len(m.entries)-1-i] = m.entries[i]
	}
	return out, nil
}

type memorySignals struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*models.Signal
}

func (m *memorySignals) Create(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("signal %s already exists", s.ID)
	}
	m.byID[s.ID] = s.Clone()
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memorySignals) Get(_ context.Context, id string) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memorySignals) List(_ context.Context, f models.SignalFilter) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Signal, 0)
	for _, id := range m.order {
		if s := m.byID[id]; f.Match(s) {
			out = append(out, *s.Clone())
		}
	}
	return newestFirst(out, f.Limit), nil
}

func (m *memorySignals) Update(_ context.Context, id string, fn func(*models.Signal) error) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if !models.SameImmutable(cur, next) {
		return nil, repository.ErrImmutableField
	}
	m.byID[id] = next.Clone()
	return next, nil
}

func (m *memorySignals) Stats(_ context.Context) (models.SignalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]models.Signal, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, *m.byID[id])
	}
	return models.ComputeStats(all), nil
}

// newestFirst orders signals by creation time descending, ties by id, and applies limit.
func newestFirst(out []models.Signal, limit int) []models.Signal {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortRecords(out []models.AnalysisRecord) {
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
}
