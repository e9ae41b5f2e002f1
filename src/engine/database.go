package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"jsondb/src/helpers"
)

// Database is a directory of collection files. The directory listing is
// read on first use; collections themselves load lazily.
type Database struct {
	name   string
	dir    string
	engine *StorageEngine

	loadOnce sync.Once
	loadErr  error

	mu          sync.RWMutex
	collections map[string]*Collection
	dropped     bool
}

func (db *Database) Name() string { return db.name }

func (db *Database) discover() error {
	db.loadOnce.Do(func() {
		entries, err := os.ReadDir(db.dir)
		if err != nil {
			db.loadErr = fmt.Errorf("error reading database directory %s: %w", db.dir, err)
			return
		}

		ext := db.engine.codec.Extension()
		found := make(map[string]*Collection)
		for _, entry := range entries {
			fileName := entry.Name()
			if entry.IsDir() || strings.HasPrefix(fileName, ".") || !strings.HasSuffix(fileName, ext) {
				continue
			}
			name := strings.TrimSuffix(fileName, ext)
			if !helpers.IsValidName(name) {
				db.engine.logger.Warnf("Skipping collection file with invalid name: %s", fileName)
				continue
			}
			found[name] = newCollection(db, name)
		}

		db.mu.Lock()
		db.collections = found
		db.mu.Unlock()
	})
	return db.loadErr
}

// Collection returns the named collection.
func (db *Database) Collection(name string) (*Collection, error) {
	if err := db.discover(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return c, nil
}

// HasCollection reports whether the named collection exists.
func (db *Database) HasCollection(name string) (bool, error) {
	_, err := db.Collection(name)
	if err == ErrCollectionNotFound {
		return false, nil
	}
	return err == nil, err
}

// ListCollections returns the collection names in sorted order.
func (db *Database) ListCollections() ([]string, error) {
	if err := db.discover(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateCollection creates an empty collection and writes its file before
// returning.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if !helpers.IsValidName(name) {
		return nil, ErrInvalidName
	}
	if err := db.discover(); err != nil {
		return nil, err
	}

	var created *Collection
	err := db.engine.persister.WithWriteLock(func() error {
		db.mu.Lock()
		defer db.mu.Unlock()

		if db.dropped {
			return ErrDatabaseNotFound
		}
		if _, exists := db.collections[name]; exists {
			return ErrCollectionExists
		}

		c := newCollection(db, name)
		c.markLoaded()
		if err := c.Flush(); err != nil {
			return err
		}
		db.collections[name] = c
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.engine.logger.Infof("Created collection %s", created)
	return created, nil
}

// DeleteCollection removes a collection and its file. Snapshots of it still
// in the persistence queue are discarded.
func (db *Database) DeleteCollection(name string) error {
	if err := db.discover(); err != nil {
		return err
	}

	err := db.engine.persister.WithWriteLock(func() error {
		db.mu.Lock()
		defer db.mu.Unlock()

		c, ok := db.collections[name]
		if !ok {
			return ErrCollectionNotFound
		}
		c.drop()
		delete(db.collections, name)
		return c.removeFile()
	})
	if err != nil {
		return err
	}

	db.engine.logger.Infof("Deleted collection %s/%s", db.name, name)
	return nil
}

// drop marks the database and every collection in it as removed. The caller
// holds the persister's write lock.
func (db *Database) drop() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.dropped = true
	for _, c := range db.collections {
		c.drop()
	}
}
