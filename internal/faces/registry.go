package faces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Registry holds the loaded model backend for the lifetime of the process.
// Load is idempotent; a failed load leaves the registry empty so it can be retried.
type Registry struct {
	loader Loader
	logger *slog.Logger

	loadMu   sync.Mutex // serializes loads
	mu       sync.Mutex // guards detector
	detector Detector
}

// NewRegistry creates an unloaded registry for the given backend.
func NewRegistry(loader Loader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{loader: loader, logger: logger}
}

// Backend returns the name of the configured backend.
func (r *Registry) Backend() string {
	return r.loader.Name()
}

// Load loads the models unless they are already loaded.
// Concurrent callers wait for the same load.
// Ready and Detector do not wait for a load in progress.
func (r *Registry) Load(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.Ready() {
		return nil
	}

	r.logger.Info("loading face models", "backend", r.loader.Name())
	detector, err := r.loader.Load(ctx)
	if err != nil {
		var loadErr *ModelLoadError
		if errors.As(err, &loadErr) {
			return err
		}
		return &ModelLoadError{Backend: r.loader.Name(), Err: err}
	}
	if detector == nil {
		return &ModelLoadError{Backend: r.loader.Name(), Err: errors.New("backend returned no detector")}
	}

	r.mu.Lock()
	r.detector = detector
	r.mu.Unlock()
	r.logger.Info("face models loaded", "backend", r.loader.Name())
	return nil
}

// Ready reports whether the models are loaded.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector != nil
}

// Detector returns the loaded detector or ErrNotReady.
func (r *Registry) Detector() (Detector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detector == nil {
		return nil, ErrNotReady
	}
	return r.detector, nil
}

// Close releases the backend. The registry may be loaded again afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.detector
	r.detector = nil
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
