package directors

import (
	"errors"
	"sync"

	"jsondb/src/engine"

	"go.uber.org/zap"
)

var (
	ErrAlreadyOpened  = errors.New("database is already open in this session")
	ErrDatabaseActive = errors.New("database is open in another session")
)

// DatabaseService manages databases on top of the storage engine and tracks
// which sessions hold each database open.
type DatabaseService struct {
	store  *engine.StorageEngine
	logger *zap.SugaredLogger

	// mu serializes hold changes against database deletion
	mu    sync.Mutex
	holds map[string]map[string]struct{} // database -> session ids
}

// NewDatabaseService creates a new DatabaseService
func NewDatabaseService(store *engine.StorageEngine, logger *zap.SugaredLogger) *DatabaseService {
	return &DatabaseService{
		store:  store,
		logger: logger,
		holds:  make(map[string]map[string]struct{}),
	}
}

func (s *DatabaseService) Store() *engine.StorageEngine { return s.store }

// ListDatabases returns every database name, sorted.
func (s *DatabaseService) ListDatabases() []string {
	return s.store.ListDatabases()
}

func (s *DatabaseService) GetDatabaseByName(name string) (*engine.Database, error) {
	return s.store.Database(name)
}

func (s *DatabaseService) AddDatabase(name string) error {
	_, err := s.store.CreateDatabase(name)
	return err
}

// OpenDatabase moves sessionID's hold from current (may be empty) to name.
func (s *DatabaseService) OpenDatabase(sessionID, current, name string) (*engine.Database, error) {
	if current != "" && current == name {
		return nil, ErrAlreadyOpened
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.store.Database(name)
	if err != nil {
		return nil, err
	}

	if current != "" {
		s.releaseLocked(sessionID, current)
	}
	holders, ok := s.holds[name]
	if !ok {
		holders = make(map[string]struct{})
		s.holds[name] = holders
	}
	holders[sessionID] = struct{}{}
	return db, nil
}

// ReleaseDatabase drops sessionID's hold on name.
func (s *DatabaseService) ReleaseDatabase(sessionID, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.releaseLocked(sessionID, name)
	s.mu.Unlock()
}

func (s *DatabaseService) releaseLocked(sessionID, name string) {
	holders, ok := s.holds[name]
	if !ok {
		return
	}
	delete(holders, sessionID)
	if len(holders) == 0 {
		delete(s.holds, name)
	}
}

// Holders returns how many sessions have name open.
func (s *DatabaseService) Holders(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds[name])
}

// DeleteDatabase removes name unless a session other than sessionID has it
// open. The caller's own hold is released.
func (s *DatabaseService) DeleteDatabase(sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.HasDatabase(name) {
		return engine.ErrDatabaseNotFound
	}

	for holder := range s.holds[name] {
		if holder != sessionID {
			return ErrDatabaseActive
		}
	}

	if err := s.store.DeleteDatabase(name); err != nil {
		return err
	}
	delete(s.holds, name)
	return nil
}
