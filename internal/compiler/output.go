package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// Written lists the files WriteArtifact produced
type Written struct {
	BundlePath string
	MapPath    string // empty when the artifact has no map
}

// WriteArtifact writes the bundle and, if present, its sibling map into dir
func WriteArtifact(dir string, artifact *sourcemap.Artifact) (*Written, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := &Written{BundlePath: filepath.Join(dir, artifact.BundleName)}

	if err := os.WriteFile(written.BundlePath, artifact.Bundle, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}

	mapJSON, err := artifact.MapJSON()
	if err != nil {
		return nil, err
	}

	if mapJSON == nil {
		return written, nil
	}

	written.MapPath = filepath.Join(dir, artifact.MapName())
	if err := os.WriteFile(written.MapPath, append(mapJSON, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source map: %w", err)
	}

	return written, nil
}
