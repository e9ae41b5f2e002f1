package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"jsondb/src/helpers"

	"go.uber.org/zap"
)

// UsersFileName is the name of the users file inside the data directory.
const UsersFileName = "jsondb.json"

// RootUsername is the account created on first start.
const RootUsername = "root"

// UserStore keeps every user in memory and mirrors them to a single JSON file.
// Every mutation rewrites the whole file before returning.
type UserStore struct {
	filePath string
	params   HashParams
	users    []*User      // In-memory cache of users
	mu       sync.RWMutex // Serializes mutations and file writes
	logger   *zap.SugaredLogger

	// hashed once so unknown users cost the same as wrong passwords
	dummyHash string
}

// NewUserStore creates a user store for dataDir and loads the users file if it
// exists.
func NewUserStore(dataDir string, params HashParams, logger *zap.SugaredLogger) (*UserStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dummy, err := HashPassword("", params)
	if err != nil {
		return nil, err
	}

	store := &UserStore{
		filePath:  filepath.Join(dataDir, UsersFileName),
		params:    params,
		users:     []*User{},
		logger:    logger,
		dummyHash: dummy,
	}

	if store.Exists() {
		if err := store.Load(); err != nil {
			return nil, fmt.Errorf("failed to load user store: %w", err)
		}
	}

	return store, nil
}

// Exists reports whether the users file is present on disk.
func (s *UserStore) Exists() bool {
	return helpers.FileExists(s.filePath)
}

// Load reads the users file from disk, replacing the in-memory users.
func (s *UserStore) Load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var raw map[string]userRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal users: %w", err)
	}

	users := make([]*User, 0, len(raw))
	for name, rec := range raw {
		users = append(users, newUser(name, rec.Password, rec.GlobalPermissions, rec.DBPermissions))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.logger.Infof("Loaded %d users from %s", len(users), s.filePath)
	return nil
}

// save persists the user store to disk. The caller holds s.mu.
func (s *UserStore) save() error {
	raw := make(map[string]userRecord, len(s.users))
	for _, u := range s.users {
		raw[u.Username] = u.record()
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal users: %w", err)
	}

	if err := helpers.WriteFileAtomic(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username, or nil if there is none.
func (s *UserStore) GetUser(username string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(username)
}

// ListUsers returns a list of all usernames
func (s *UserStore) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usernames := make([]string, len(s.users))
	for i, user := range s.users {
		usernames[i] = user.Username
	}

	return usernames
}

// VerifyCredentials returns the user when username and password match. An
// unknown user and a wrong password are indistinguishable to the caller.
func (s *UserStore) VerifyCredentials(username, password string) (*User, bool) {
	user := s.GetUser(username)
	if user == nil {
		VerifyPassword(s.dummyHash, password)
		return nil, false
	}

	if !user.VerifyPassword(password) {
		return nil, false
	}
	return user, true
}

// CreateUser adds a new user and persists the store.
func (s *UserStore) CreateUser(username, password string, global []Permission) (*User, error) {
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == username {
			return nil, ErrUserAlreadyExists
		}
	}

	user := newUser(username, hash, global, nil)
	s.users = append(s.users, user)

	if err := s.save(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return nil, err
	}

	s.logger.Infof("Created user %s", username)
	return user, nil
}

// EnsureRoot creates the users file with a root admin on first start.
func (s *UserStore) EnsureRoot(password string) error {
	if s.Exists() {
		return nil
	}
	if password == "" {
		return ErrNoRootPassword
	}

	_, err := s.CreateUser(RootUsername, password, []Permission{PermAdmin})
	return err
}

// AddDBPermission grants p on database to the user and rewrites the file.
func (s *UserStore) AddDBPermission(username, database string, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.findLocked(username)
	if user == nil {
		return ErrUserNotFound
	}

	if !user.addDBPermission(database, p) {
		return nil
	}

	if err := s.save(); err != nil {
		user.removeDBPermission(database, p)
		return err
	}
	return nil
}

// RemoveDBPermission revokes p on database from the user and rewrites the
// file. The database entry disappears with its last permission.
func (s *UserStore) RemoveDBPermission(username, database string, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.findLocked(username)
	if user == nil {
		return ErrUserNotFound
	}

	if !user.removeDBPermission(database, p) {
		return nil
	}

	if err := s.save(); err != nil {
		user.addDBPermission(database, p)
		return err
	}
	return nil
}

func (s *UserStore) findLocked(username string) *User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}
