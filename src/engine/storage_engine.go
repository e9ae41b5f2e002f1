package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"jsondb/src/helpers"

	"go.uber.org/zap"
)

// StorageEngine owns the data directory: one subdirectory per database, one
// snapshot file per collection.
type StorageEngine struct {
	DataDirectory string

	codec     SnapshotCodec
	persister *Persister
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	databases map[string]*Database
}

// NewStorageEngine scans dataDir for database directories. Collections are
// not read until they are used.
func NewStorageEngine(dataDir string, codec SnapshotCodec, persister *Persister, logger *zap.SugaredLogger) (*StorageEngine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	se := &StorageEngine{
		DataDirectory: dataDir,
		codec:         codec,
		persister:     persister,
		logger:        logger,
		databases:     make(map[string]*Database),
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("error reading data directory %s: %w", dataDir, err)
	}

	for _, entry := range entries {
		// Skip files and hidden directories
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !helpers.IsValidName(entry.Name()) {
			logger.Warnf("Skipping directory with invalid database name: %s", entry.Name())
			continue
		}
		se.databases[entry.Name()] = se.newDatabase(entry.Name())
	}

	logger.Infof("Found %d databases in %s", len(se.databases), dataDir)
	return se, nil
}

func (se *StorageEngine) newDatabase(name string) *Database {
	return &Database{
		name:   name,
		dir:    filepath.Join(se.DataDirectory, name),
		engine: se,
	}
}

// Persister returns the persister snapshots are written through.
func (se *StorageEngine) Persister() *Persister { return se.persister }

// Database returns the named database.
func (se *StorageEngine) Database(name string) (*Database, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	db, ok := se.databases[name]
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	return db, nil
}

// HasDatabase reports whether the named database exists.
func (se *StorageEngine) HasDatabase(name string) bool {
	_, err := se.Database(name)
	return err == nil
}

// ListDatabases returns database names in sorted order.
func (se *StorageEngine) ListDatabases() []string {
	se.mu.RLock()
	defer se.mu.RUnlock()

	names := make([]string, 0, len(se.databases))
	for name := range se.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateDatabase creates the directory for a new, empty database.
func (se *StorageEngine) CreateDatabase(name string) (*Database, error) {
	if !helpers.IsValidName(name) {
		return nil, ErrInvalidName
	}

	var db *Database
	err := se.persister.WithWriteLock(func() error {
		se.mu.Lock()
		defer se.mu.Unlock()

		if _, exists := se.databases[name]; exists {
			return ErrDatabaseExists
		}

		candidate := se.newDatabase(name)
		if err := os.Mkdir(candidate.dir, 0755); err != nil {
			if os.IsExist(err) {
				return ErrDatabaseExists
			}
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		se.databases[name] = candidate
		db = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	se.logger.Infof("Created database %s", name)
	return db, nil
}

// DeleteDatabase removes a database directory and everything in it.
func (se *StorageEngine) DeleteDatabase(name string) error {
	err := se.persister.WithWriteLock(func() error {
		se.mu.Lock()
		defer se.mu.Unlock()

		db, ok := se.databases[name]
		if !ok {
			return ErrDatabaseNotFound
		}
		db.drop()
		delete(se.databases, name)

		if err := os.RemoveAll(db.dir); err != nil {
			return fmt.Errorf("failed to remove database directory: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	se.logger.Infof("Deleted database %s", name)
	return nil
}

// readSnapshot decodes a collection file. A missing file is an empty
// collection.
func (se *StorageEngine) readSnapshot(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil
		}
		return nil, err
	}
	return se.codec.Decode(data)
}
