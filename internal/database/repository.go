package database

import (
	"context"
)

// RunReader provides read-only access to stored analysis runs
type RunReader interface {
	// Get retrieves a run with its matches by ID, returns nil if not found
	Get(ctx context.Context, id string) (*StoredRun, error)
	// List returns runs without matches, newest first
	List(ctx context.Context, limit, offset int) ([]StoredRun, error)
	// Count returns the total number of stored runs
	Count(ctx context.Context) (int, error)
	// FindByReference finds runs whose reference face is within maxDistance
	// (Euclidean) of the given embedding, nearest first, and returns the distances.
	// Runs whose reference embedding has a different dimension are skipped.
	FindByReference(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StoredRun, []float64, error)
}

// RunWriter provides write access to stored analysis runs
type RunWriter interface {
	RunReader

	// Save stores a run and its matches. Saving an existing ID replaces it.
	Save(ctx context.Context, run *StoredRun) error
	// Delete removes a run and its matches
	Delete(ctx context.Context, id string) error
}
