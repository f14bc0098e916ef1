// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Key identifies one compiled evaluator artifact.
type Key struct {
	Problem  string
	Folder   string
	Function string
}

func (k Key) String() string {
	return k.Problem + "/" + k.Folder + "/" + k.Function
}

// ArtifactStore is the shared cache of compiled evaluator artifacts.
// Load failures on present keys are reported as ErrIO so callers can force
// regeneration instead of aborting. Store must be atomic: a crash mid-write
// never leaves a partial artifact that a later Load mistakes for valid.
type ArtifactStore interface {
	Exists(key Key) bool
	Load(key Key) (*Artifact, error)
	Store(key Key, art *Artifact) error
}

// FileStore persists artifacts as JSON files under
// root/<problem>/<folder>/<function>.json, writing through a temporary file
// followed by a rename.
type FileStore struct {
	Root string
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.Root, key.Problem, key.Folder, key.Function+".json")
}

func (s *FileStore) Exists(key Key) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

func (s *FileStore) Load(key Key) (*Artifact, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, key, err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%w: corrupt artifact %s: %v", ErrIO, key, err)
	}
	if _, err := art.Pattern(); err != nil {
		return nil, fmt.Errorf("%w: corrupt artifact %s: %v", ErrIO, key, err)
	}
	return &art, nil
}

func (s *FileStore) Store(key Key, art *Artifact) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key.Function+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// MemStore is an in-memory ArtifactStore for tests and ephemeral runs.
type MemStore struct {
	mu   sync.RWMutex
	arts map[Key]*Artifact
}

func NewMemStore() *MemStore {
	return &MemStore{arts: make(map[Key]*Artifact)}
}

func (s *MemStore) Exists(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.arts[key]
	return ok
}

func (s *MemStore) Load(key Key) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.arts[key]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s missing", ErrIO, key)
	}
	return art, nil
}

func (s *MemStore) Store(key Key, art *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arts[key] = art
	return nil
}
