// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// MockRunWriter is an in-memory implementation of database.RunWriter
type MockRunWriter struct {
	mu   sync.RWMutex
	runs map[string]*database.StoredRun

	// Track calls
	SaveCalls    []string
	DeleteCalls  []string
	SearchLimits []int

	// Error injection
	GetError             error
	ListError            error
	CountError           error
	FindByReferenceError error
	SaveError            error
	DeleteError          error
}

var _ database.RunWriter = (*MockRunWriter)(nil)

// NewMockRunWriter creates a new mock run writer
func NewMockRunWriter() *MockRunWriter {
	return &MockRunWriter{
		runs: make(map[string]*database.StoredRun),
	}
}

// AddRun adds a run to the mock store without tracking a Save call
func (m *MockRunWriter) AddRun(run database.StoredRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = &run
}

// Get retrieves a run by ID
func (m *MockRunWriter) Get(ctx context.Context, id string) (*database.StoredRun, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

// sorted returns all runs newest first. Callers hold the lock.
func (m *MockRunWriter) sorted() []database.StoredRun {
	all := make([]database.StoredRun, 0, len(m.runs))
	for _, run := range m.runs {
		all = append(all, *run)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

// List returns runs without matches, newest first
func (m *MockRunWriter) List(ctx context.Context, limit, offset int) ([]database.StoredRun, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sorted()
	if offset >= len(all) {
		return []database.StoredRun{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	for i := range all {
		all[i].Matches = nil
	}
	return all, nil
}

// Count returns the number of stored runs
func (m *MockRunWriter) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs), nil
}

// FindByReference ranks runs by Euclidean distance of their reference embedding
func (m *MockRunWriter) FindByReference(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredRun, []float64, error) {
	if m.FindByReferenceError != nil {
		return nil, nil, m.FindByReferenceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchLimits = append(m.SearchLimits, limit)

	type candidate struct {
		run  database.StoredRun
		dist float64
	}
	var candidates []candidate
	for _, run := range m.sorted() {
		if len(run.ReferenceEmbedding) != len(embedding) {
			continue
		}
		dist := facematch.EuclideanDistance(embedding, run.ReferenceEmbedding)
		if dist < maxDistance {
			run.Matches = nil
			candidates = append(candidates, candidate{run: run, dist: dist})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	runs := make([]database.StoredRun, 0, len(candidates))
	distances := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		runs = append(runs, c.run)
		distances = append(distances, c.dist)
	}
	return runs, distances, nil
}

// Save stores a run
func (m *MockRunWriter) Save(ctx context.Context, run *database.StoredRun) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	m.SaveCalls = append(m.SaveCalls, run.ID)
	m.mu.Unlock()
	m.AddRun(*run)
	return nil
}

// Delete removes a run
func (m *MockRunWriter) Delete(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)
	delete(m.runs, id)
	return nil
}

// Saved returns the IDs passed to Save so far
func (m *MockRunWriter) Saved() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.SaveCalls...)
}
