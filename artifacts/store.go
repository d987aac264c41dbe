/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package artifacts maps generated files to stable public identifiers and
// download URLs, and enriches workflow results with download metadata.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

// ErrNotFound is returned by Register when the path is missing or not a regular file
var ErrNotFound = errors.New("artifact file not found")

// IDPrefix prefixes every artifact identifier
const IDPrefix = "art_"

// Record is an immutable registered artifact
type Record struct {
	ID        string    `json:"artifact_id"`
	Path      string    `json:"filepath"`
	CreatedAt time.Time `json:"created_at"`
	// Preview marks viewer pages generated by enrichment; only these are served inline
	Preview bool `json:"preview,omitempty"`
}

// Filename returns the base name of the backing file
func (r Record) Filename() string {
	return filepath.Base(r.Path)
}

// Store is the in-memory registry of downloadable artifacts.
//
// Records are never evicted: the map grows for the lifetime of the process.
type Store struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Register validates path and records it under a fresh identifier.
// The path is expanded, made absolute and resolved to its canonical form first.
func (s *Store) Register(path string) (Record, error) {
	return s.register(path, false)
}

// RegisterPreview registers a generated HTML viewer page
func (s *Store) RegisterPreview(path string) (Record, error) {
	return s.register(path, true)
}

func (s *Store) register(path string, preview bool) (Record, error) {
	resolved, err := global.CanonicalPath(path)
	if err != nil {
		if resolved == "" {
			resolved = path
		}
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, resolved)
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, resolved)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := newID()
	for {
		if _, taken := s.records[id]; !taken {
			break
		}
		id = newID()
	}

	record := Record{
		ID:        id,
		Path:      resolved,
		CreatedAt: s.now(),
		Preview:   preview,
	}
	s.records[id] = record
	return record, nil
}

// Get looks up a record; absence is reported through ok, never as an error
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	return record, ok
}

// Len returns the number of registered artifacts
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
