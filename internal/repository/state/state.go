// Package state persists the last synchronized build number per platform
// job. The file is a flat, pretty-printed JSON object keyed "platform/job"
// so operators can inspect or hand-edit it between runs.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/afero"
)

type Repository struct {
	fs   afero.Fs
	path string
	log  *slog.Logger

	mu sync.Mutex
	m  map[string]int
}

func NewRepository(path string, log *slog.Logger) *Repository {
	return NewRepositoryWithFS(afero.NewOsFs(), path, log)
}

func NewRepositoryWithFS(fs afero.Fs, path string, log *slog.Logger) *Repository {
	return &Repository{
		fs:   fs,
		path: path,
		log:  log.With(slog.String("item", "StateRepository")),
		m:    make(map[string]int),
	}
}

// Load reads the persisted state. A missing file means no job was ever
// synchronized and is not an error.
func (r *Repository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := afero.Exists(r.fs, r.path)
	if err != nil {
		return fmt.Errorf("cannot check state file %s: %w", r.path, err)
	}
	if !exists {
		r.log.Info("No previous state", slog.String("path", r.path))
		return nil
	}

	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return fmt.Errorf("cannot read state file %s: %w", r.path, err)
	}

	m := make(map[string]int)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("cannot parse state file %s: %w", r.path, err)
	}
	r.m = m

	r.log.Info("Loaded state", slog.String("path", r.path), slog.Int("jobs", len(m)))

	return nil
}

// Get returns the last synchronized build number for a platform job pair.
func (r *Repository) Get(platform, job string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.m[key(platform, job)]

	return n, ok
}

// RecordBuild updates the mapping and flushes the whole file. Called after
// every job that fully downloaded its artifacts, not once per sweep, so a
// crash mid-sweep only loses the jobs that had not flushed yet.
func (r *Repository) RecordBuild(platform, job string, number int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m[key(platform, job)] = number

	return r.flushLocked()
}

// All returns a copy of the current mapping.
func (r *Repository) All() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := make(map[string]int, len(r.m))
	for k, v := range r.m {
		m[k] = v
	}

	return m
}

func (r *Repository) flushLocked() error {
	data, err := json.MarshalIndent(r.m, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal state: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write state file %s: %w", tmp, err)
	}

	if err := r.fs.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("cannot replace state file %s: %w", r.path, err)
	}

	return nil
}

func key(platform, job string) string {
	return platform + "/" + job
}
