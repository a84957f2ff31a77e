// Package cache stores compiled bundles keyed by the digest of their inputs.
//
// Every Store is write-once per key: the first artifact stored under a key is
// kept and later writes are ignored. Keys are derived from the full request
// content, so any later artifact for the same key is identical anyway.
//
// Coalescer sits in front of a Store and makes sure concurrent compiles of
// the same key run the compile function once.
package cache

import (
	"context"
	"maps"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// Store maps a request digest to a compiled artifact
type Store interface {
	// Lookup returns nil, nil on a miss
	Lookup(ctx context.Context, key digest.Digest) (*sourcemap.Artifact, error)

	// Store keeps the first artifact written for a key
	Store(ctx context.Context, key digest.Digest, artifact *sourcemap.Artifact) error
}

// Nop is a Store that never hits and discards writes
type Nop struct{}

func (Nop) Lookup(context.Context, digest.Digest) (*sourcemap.Artifact, error) {
	return nil, nil
}

func (Nop) Store(context.Context, digest.Digest, *sourcemap.Artifact) error {
	return nil
}

// newEntry builds the metadata record for an artifact
func newEntry(key digest.Digest, artifact *sourcemap.Artifact, mapJSON []byte) Entry {
	entry := Entry{
		Key:           key.String(),
		BundleName:    artifact.BundleName,
		Timestamp:     time.Now(),
		BundleSize:    int64(len(artifact.Bundle)),
		MapSize:       int64(len(mapJSON)),
		ReferencesMap: artifact.ReferencesMap,
		Inputs:        maps.Clone(artifact.Inputs),
	}

	if artifact.Map != nil {
		entry.Sources = append([]string(nil), artifact.Map.Sources...)
	}

	return entry
}
