package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"go.etcd.io/bbolt"

	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = ".jsbundle-cache"

	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "bundles"
)

// DiskStore keeps entry metadata in BoltDB and compressed artifacts on disk
//
//	<root>/cache.db
//	<root>/artifacts/<algorithm>/<hex>/bundle.zst
//	<root>/artifacts/<algorithm>/<hex>/map.json.zst
type DiskStore struct {
	db   *bbolt.DB
	root string
}

// NewDiskStore opens the cache under cacheDir
// If cacheDir is empty, uses DefaultCacheDir in current working directory
func NewDiskStore(cacheDir string) (*DiskStore, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Open BoltDB
	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &DiskStore{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (s *DiskStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Root returns the cache directory
func (s *DiskStore) Root() string {
	return s.root
}

// Entry returns the metadata for key, or nil on a miss
func (s *DiskStore) Entry(key digest.Digest) (*Entry, error) {
	var entry *Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key.String()))
		if data == nil {
			return nil // Cache miss
		}

		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, codes.Wrap(codes.CacheStoreError, err, "failed to read cache entry %s", key)
	}

	return entry, nil
}

// Lookup implements Store
func (s *DiskStore) Lookup(_ context.Context, key digest.Digest) (*sourcemap.Artifact, error) {
	entry, err := s.Entry(key)
	if err != nil || entry == nil {
		return nil, err
	}

	artifact, err := ReadArtifacts(s.artifactDir(key), entry)
	if err != nil {
		return nil, codes.Wrap(codes.CacheStoreError, err, "failed to restore cache entry %s", key)
	}

	return artifact, nil
}

// Store implements Store. Artifacts are written inside the update
// transaction so a second writer for the same key sees the first entry
// and leaves it alone.
func (s *DiskStore) Store(_ context.Context, key digest.Digest, artifact *sourcemap.Artifact) error {
	if err := key.Validate(); err != nil {
		return codes.Wrap(codes.CacheStoreError, err, "invalid cache key")
	}

	mapJSON, err := artifact.MapJSON()
	if err != nil {
		return codes.Wrap(codes.CacheStoreError, err, "failed to encode artifact")
	}

	entry := newEntry(key, artifact, mapJSON)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(key.String())) != nil {
			return nil // write-once
		}

		if err := WriteArtifacts(s.artifactDir(key), artifact, mapJSON); err != nil {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(key.String()), data)
	})
	if err != nil {
		return codes.Wrap(codes.CacheStoreError, err, "failed to store cache entry %s", key)
	}

	return nil
}

// Clear removes all cache entries and artifacts
func (s *DiskStore) Clear() error {
	// Clear BoltDB
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		// Recreate bucket
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return err
	}

	// Remove artifacts directory
	artifactsDir := filepath.Join(s.root, "artifacts")
	if err := os.RemoveAll(artifactsDir); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// Stats returns the number of entries and the total artifact size on disk
func (s *DiskStore) Stats() (int, int64, error) {
	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return count, dirSize(filepath.Join(s.root, "artifacts")), nil
}

// artifactDir returns the directory path for a given cache key
func (s *DiskStore) artifactDir(key digest.Digest) string {
	return filepath.Join(s.root, "artifacts", string(key.Algorithm()), key.Encoded())
}
