// Package store implements the durable store adapter using bbolt
// (embedded B+ tree). The whole project collection is persisted as one
// keyed record: JSON blobs for projects and folders inside a single
// bucket. Writes are transactional — a crash mid-write cannot corrupt
// previously committed data. The adapter is pure read/write; business
// rules live in the repository.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"toolbench/internal/logging"
	"toolbench/internal/types"

	bolt "go.etcd.io/bbolt"
)

// Bucket and record keys.
var (
	bucketWorkspace = []byte("workspace")
	keyProjects     = []byte("projects")
	keyFolders      = []byte("folders")
)

// Store persists the project collection to a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at the given path, creating
// parent directories as needed.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	logging.Store("opened database at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the full collection. A fresh database yields an empty
// collection, not an error.
func (s *Store) Load() (types.Collection, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Load")
	defer timer.Stop()

	var projectsJSON, foldersJSON []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspace)
		if b == nil {
			return nil
		}
		// Copy bytes out of the transaction (bbolt slices are only
		// valid within the tx).
		if v := b.Get(keyProjects); v != nil {
			projectsJSON = make([]byte, len(v))
			copy(projectsJSON, v)
		}
		if v := b.Get(keyFolders); v != nil {
			foldersJSON = make([]byte, len(v))
			copy(foldersJSON, v)
		}
		return nil
	})
	if err != nil {
		return types.Collection{}, fmt.Errorf("load collection: %w", err)
	}

	var c types.Collection
	if projectsJSON != nil {
		if err := json.Unmarshal(projectsJSON, &c.Projects); err != nil {
			return types.Collection{}, fmt.Errorf("unmarshal projects: %w", err)
		}
	}
	if foldersJSON != nil {
		if err := json.Unmarshal(foldersJSON, &c.Folders); err != nil {
			return types.Collection{}, fmt.Errorf("unmarshal folders: %w", err)
		}
	}

	logging.StoreDebug("loaded %d projects, %d folders", len(c.Projects), len(c.Folders))
	return c, nil
}

// Save persists the full collection, replacing whatever was stored.
// Serialization happens before the write transaction opens, so a
// marshal failure leaves the previous record intact.
func (s *Store) Save(c types.Collection) error {
	timer := logging.StartTimer(logging.CategoryStore, "store.Save")
	defer timer.StopWithThreshold(100 * time.Millisecond)

	projectsJSON, err := json.Marshal(c.Projects)
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	foldersJSON, err := json.Marshal(c.Folders)
	if err != nil {
		return fmt.Errorf("marshal folders: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketWorkspace)
		if err != nil {
			return err
		}
		if err := b.Put(keyProjects, projectsJSON); err != nil {
			return err
		}
		return b.Put(keyFolders, foldersJSON)
	})
	if err != nil {
		return fmt.Errorf("save collection: %w", err)
	}

	logging.StoreDebug("saved %d projects, %d folders", len(c.Projects), len(c.Folders))
	return nil
}
