package cache

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[digest.Digest]*sourcemap.Artifact
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[digest.Digest]*sourcemap.Artifact)}
}

// Lookup implements Store
func (s *MemoryStore) Lookup(_ context.Context, key digest.Digest) (*sourcemap.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.entries[key]
	if !ok {
		return nil, nil
	}

	return cloneArtifact(a), nil
}

// Store implements Store
func (s *MemoryStore) Store(_ context.Context, key digest.Digest, artifact *sourcemap.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return nil // write-once
	}

	s.entries[key] = cloneArtifact(artifact)

	return nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// cloneArtifact deep copies an artifact so stored entries are never mutated
func cloneArtifact(a *sourcemap.Artifact) *sourcemap.Artifact {
	out := *a
	out.Bundle = slices.Clone(a.Bundle)
	out.Inputs = maps.Clone(a.Inputs)

	if a.Map != nil {
		sm := *a.Map
		sm.Sources = slices.Clone(a.Map.Sources)
		sm.SourcesContent = slices.Clone(a.Map.SourcesContent)
		sm.Names = slices.Clone(a.Map.Names)
		out.Map = &sm
	}

	return &out
}
