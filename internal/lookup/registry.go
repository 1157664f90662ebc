package lookup

import (
	"log/slog"
	"sync/atomic"

	"github.com/nhle/mensabot/internal/model"
)

// Registry holds the process-wide current Table. Reload swaps the whole
// table atomically; readers holding the previous *Table keep a consistent
// view until they ask again.
type Registry struct {
	path    string
	current atomic.Pointer[Table]
	logger  *slog.Logger
}

// NewRegistry loads the table at path.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := Load(path, logger)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, logger: logger}
	r.current.Store(t)
	return r, nil
}

// NewStaticRegistry wraps an already built table. Reload fails on a
// registry without a path.
func NewStaticRegistry(t *Table) *Registry {
	r := &Registry{logger: t.logger}
	r.current.Store(t)
	return r
}

// Current returns the active table.
func (r *Registry) Current() *Table {
	return r.current.Load()
}

// Reload re-reads the table from disk. On failure the active table stays
// in place.
func (r *Registry) Reload() error {
	if r.path == "" {
		return &model.ConfigError{Kind: model.ConfigMissing, Key: "lookup.path", Reason: "static table cannot be reloaded"}
	}
	t, err := Load(r.path, r.logger)
	if err != nil {
		return err
	}
	r.current.Store(t)
	r.logger.Info("lookup table reloaded", "path", r.path, "codes", t.Len())
	return nil
}
