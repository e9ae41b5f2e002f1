package auth

import (
	"sort"
	"sync"
)

// User is the shared in-memory record of one account. Sessions hold a pointer
// to it, so permission changes are visible to live sessions immediately.
type User struct {
	Username string

	mu                sync.RWMutex
	passwordHash      string
	globalPermissions permissionSet
	dbPermissions     map[string]permissionSet
}

// userRecord is the persisted shape of a user in the users file.
type userRecord struct {
	Password          string                  `json:"password"`
	GlobalPermissions []Permission            `json:"global_permissions"`
	DBPermissions     map[string][]Permission `json:"db_permissions,omitempty"`
}

func newUser(username, passwordHash string, global []Permission, perDB map[string][]Permission) *User {
	u := &User{
		Username:          username,
		passwordHash:      passwordHash,
		globalPermissions: newPermissionSet(global),
		dbPermissions:     make(map[string]permissionSet, len(perDB)),
	}
	for db, perms := range perDB {
		if len(perms) > 0 {
			u.dbPermissions[db] = newPermissionSet(perms)
		}
	}
	return u
}

// HasPermission reports whether the user holds p. With an empty database the
// global set is consulted, otherwise the set granted for that database. The
// global admin permission passes every check.
func (u *User) HasPermission(p Permission, database string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.globalPermissions.has(PermAdmin) {
		return true
	}
	if database == "" {
		return u.globalPermissions.has(p)
	}
	return u.dbPermissions[database].has(p)
}

// IsAdmin reports whether the user holds the global admin permission.
func (u *User) IsAdmin() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.globalPermissions.has(PermAdmin)
}

// VerifyPassword checks password against the stored hash.
func (u *User) VerifyPassword(password string) bool {
	u.mu.RLock()
	hash := u.passwordHash
	u.mu.RUnlock()

	ok, err := VerifyPassword(hash, password)
	return err == nil && ok
}

// GlobalPermissions returns the global grants, sorted.
func (u *User) GlobalPermissions() []Permission {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.globalPermissions.list()
}

// DBPermissions returns the grants for one database, sorted.
func (u *User) DBPermissions(database string) []Permission {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.dbPermissions[database].list()
}

// Databases returns the names of databases the user holds grants on.
func (u *User) Databases() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	names := make([]string, 0, len(u.dbPermissions))
	for db := range u.dbPermissions {
		names = append(names, db)
	}
	sort.Strings(names)
	return names
}

// addDBPermission reports whether the grant was not held before.
func (u *User) addDBPermission(database string, p Permission) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	set, ok := u.dbPermissions[database]
	if !ok {
		set = make(permissionSet)
		u.dbPermissions[database] = set
	}
	if set.has(p) {
		return false
	}
	set[p] = struct{}{}
	return true
}

// removeDBPermission drops the grant and the database entry once it is empty.
// It reports whether the grant was held.
func (u *User) removeDBPermission(database string, p Permission) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	set, ok := u.dbPermissions[database]
	if !ok || !set.has(p) {
		return false
	}
	delete(set, p)
	if len(set) == 0 {
		delete(u.dbPermissions, database)
	}
	return true
}

func (u *User) record() userRecord {
	u.mu.RLock()
	defer u.mu.RUnlock()

	rec := userRecord{
		Password:          u.passwordHash,
		GlobalPermissions: u.globalPermissions.list(),
	}
	if len(u.dbPermissions) > 0 {
		rec.DBPermissions = make(map[string][]Permission, len(u.dbPermissions))
		for db, set := range u.dbPermissions {
			rec.DBPermissions[db] = set.list()
		}
	}
	return rec
}
