package cache

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry is the metadata stored alongside a cached artifact
type Entry struct {
	// Key is the request digest this entry is stored under
	Key string `json:"key"`

	// BundleName is the bundle's file name
	BundleName string `json:"bundle_name"`

	// Sources lists the normalized source paths from the map
	Sources []string `json:"sources,omitempty"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`

	// BundleSize is the uncompressed bundle size in bytes
	BundleSize int64 `json:"bundle_size"`

	// MapSize is the uncompressed map size in bytes, 0 without a map
	MapSize int64 `json:"map_size"`

	// ReferencesMap mirrors the artifact flag
	ReferencesMap bool `json:"references_map"`

	// Inputs are the content digests of the disk files the bundle read
	Inputs map[string]digest.Digest `json:"inputs,omitempty"`
}

// HasMap reports whether a map was stored with the bundle
func (e *Entry) HasMap() bool {
	return e.MapSize > 0
}
