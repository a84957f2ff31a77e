package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

const (
	bundleFile = "bundle.zst"
	mapFile    = "map.json.zst"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompress(data []byte) ([]byte, error) {
	return decoder.DecodeAll(data, nil)
}

// WriteArtifacts writes the compressed bundle and map into dir. Files are
// written under a temporary name and renamed so readers never see a partial
// artifact.
func WriteArtifacts(dir string, artifact *sourcemap.Artifact, mapJSON []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, bundleFile), compress(artifact.Bundle)); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}

	if mapJSON != nil {
		if err := writeFileAtomic(filepath.Join(dir, mapFile), compress(mapJSON)); err != nil {
			return fmt.Errorf("failed to write source map: %w", err)
		}
	}

	return nil
}

// ReadArtifacts restores the artifact described by entry from dir
func ReadArtifacts(dir string, entry *Entry) (*sourcemap.Artifact, error) {
	raw, err := os.ReadFile(filepath.Join(dir, bundleFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	bundle, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress bundle: %w", err)
	}

	artifact := &sourcemap.Artifact{
		Bundle:        bundle,
		BundleName:    entry.BundleName,
		ReferencesMap: entry.ReferencesMap,
		Inputs:        entry.Inputs,
	}

	if !entry.HasMap() {
		return artifact, nil
	}

	raw, err = os.ReadFile(filepath.Join(dir, mapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read source map: %w", err)
	}

	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress source map: %w", err)
	}

	var sm sourcemap.SourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("failed to decode source map: %w", err)
	}
	artifact.Map = &sm

	return artifact, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// dirSize returns the total size of regular files under dir
func dirSize(dir string) int64 {
	var total int64

	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total
}
