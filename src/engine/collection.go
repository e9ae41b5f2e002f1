package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"jsondb/src/helpers"
)

// Change is the before and after image of one updated document.
type Change struct {
	Before Document `json:"before"`
	After  Document `json:"after"`
}

// Collection is an ordered list of documents backed by one snapshot file.
// The file is read on first use; after that memory is authoritative and the
// file is rewritten through the persister after every mutation.
type Collection struct {
	name string
	db   *Database
	path string

	loadOnce sync.Once
	loadErr  error

	mu      sync.RWMutex
	docs    []Document
	ids     map[string]struct{}
	dropped bool
}

func newCollection(db *Database, name string) *Collection {
	return &Collection{
		name: name,
		db:   db,
		path: filepath.Join(db.dir, name+db.engine.codec.Extension()),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Database() *Database { return c.db }

func (c *Collection) String() string {
	return c.db.name + "/" + c.name
}

func (c *Collection) load() error {
	c.loadOnce.Do(func() {
		docs, err := c.db.engine.readSnapshot(c.path)
		if err != nil {
			c.loadErr = fmt.Errorf("failed to load collection %s: %w", c, err)
			return
		}

		ids := make(map[string]struct{}, len(docs))
		for _, d := range docs {
			if id := d.ID(); id != "" {
				ids[id] = struct{}{}
			}
		}

		c.mu.Lock()
		c.docs = docs
		c.ids = ids
		c.mu.Unlock()
		c.db.engine.logger.Debugf("Loaded %d documents from %s", len(docs), c.path)
	})
	return c.loadErr
}

// markLoaded sets up a brand new collection that has no file to read yet.
func (c *Collection) markLoaded() {
	c.loadOnce.Do(func() {
		c.docs = []Document{}
		c.ids = map[string]struct{}{}
	})
}

// Len returns the number of documents.
func (c *Collection) Len() (int, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs), nil
}

// FindOne returns a copy of the first document matching query, or nil.
func (c *Collection) FindOne(query map[string]interface{}) (Document, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.docs {
		if d.Matches(query) {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

// FindAll returns copies of every document matching query, in insertion
// order. A nil query matches everything.
func (c *Collection) FindAll(query map[string]interface{}) ([]Document, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []Document{}
	for _, d := range c.docs {
		if d.Matches(query) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// Insert stores a copy of doc under a fresh @id, replacing any @id the caller
// supplied, and returns the stored document.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	stored[IDKey] = c.newIDLocked()
	c.docs = append(c.docs, stored)
	result := stored.Clone()
	c.mu.Unlock()

	return result, c.persist(ctx)
}

func (c *Collection) newIDLocked() string {
	for {
		id := helpers.GenerateUUID()
		if _, taken := c.ids[id]; !taken {
			c.ids[id] = struct{}{}
			return id
		}
	}
}

// Update merges patch into every document matching query and returns a
// change for each document whose content actually changed. The @id key in
// patch is ignored.
func (c *Collection) Update(ctx context.Context, query, patch map[string]interface{}) ([]Change, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	changes := []Change{}
	for _, d := range c.docs {
		if !d.Matches(query) {
			continue
		}
		before := d.Clone()
		if d.apply(patch) {
			changes = append(changes, Change{Before: before, After: d.Clone()})
		}
	}
	c.mu.Unlock()

	if len(changes) == 0 {
		return changes, nil
	}
	return changes, c.persist(ctx)
}

// Delete removes every document matching query and returns them in their
// original order.
func (c *Collection) Delete(ctx context.Context, query map[string]interface{}) ([]Document, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	removed := []Document{}
	kept := c.docs[:0]
	for _, d := range c.docs {
		if d.Matches(query) {
			removed = append(removed, d)
			delete(c.ids, d.ID())
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	c.mu.Unlock()

	if len(removed) == 0 {
		return removed, nil
	}
	return removed, c.persist(ctx)
}

// persist queues a snapshot of c. The change is already in memory, so a
// canceled request must not keep it off disk.
func (c *Collection) persist(ctx context.Context) error {
	return c.db.engine.persister.Enqueue(context.WithoutCancel(ctx), c)
}

// Flush writes the current documents to the collection file. A dropped
// collection is skipped.
func (c *Collection) Flush() error {
	c.mu.RLock()
	if c.dropped {
		c.mu.RUnlock()
		return nil
	}
	data, err := c.db.engine.codec.Encode(c.docs)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c, err)
	}

	return helpers.WriteFileAtomic(c.path, data, 0644)
}

// drop marks the collection so queued snapshots of it are discarded. The
// caller holds the persister's write lock.
func (c *Collection) drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

// removeFile deletes the collection file. The caller holds the persister's
// write lock.
func (c *Collection) removeFile() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", c.path, err)
	}
	return nil
}
