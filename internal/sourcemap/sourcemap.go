// Package sourcemap separates a bundle from its source map and rewrites the
// bundle to reference the map as a sibling file.
package sourcemap

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Version is the only source map revision accepted
const Version = 3

// SourceMap is a revision 3 source map
type SourceMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Artifact is the final output of a compile
type Artifact struct {
	// Bundle is the executable bundle
	Bundle []byte

	// Map is nil when no map could be extracted
	Map *SourceMap

	// BundleName is the bundle's file name
	BundleName string

	// ReferencesMap is true when the bundle ends with a comment naming MapName
	ReferencesMap bool

	// Inputs are the disk files the bundle was built from, keyed by
	// root-relative path, with the digest of their content at build time
	Inputs map[string]digest.Digest
}

// MapName returns the sibling file name of the map
func (a *Artifact) MapName() string {
	return MapName(a.BundleName)
}

// MapName returns the map file name for a bundle name
func MapName(bundleName string) string {
	return bundleName + ".map"
}

// MapJSON encodes the map, or returns nil when there is none
func (a *Artifact) MapJSON() ([]byte, error) {
	if a.Map == nil {
		return nil, nil
	}

	data, err := json.Marshal(a.Map)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source map: %w", err)
	}

	return data, nil
}
