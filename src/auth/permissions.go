package auth

import (
	"sort"
	"strings"
)

// Permission names a grant held globally or for one database.
type Permission string

const (
	PermRead       Permission = "read"
	PermWrite      Permission = "write"
	PermCreateColl Permission = "create_coll"
	PermDeleteColl Permission = "delete_coll"
	PermCreateDB   Permission = "create_db"
	PermDeleteDB   Permission = "delete_db"
	// PermAdmin satisfies every permission check.
	PermAdmin Permission = "admin"
)

var knownPermissions = map[Permission]bool{
	PermRead:       true,
	PermWrite:      true,
	PermCreateColl: true,
	PermDeleteColl: true,
	PermCreateDB:   true,
	PermDeleteDB:   true,
	PermAdmin:      true,
}

// ParsePermission maps a name to a Permission, case-insensitively.
func ParsePermission(name string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(name)))
	if !knownPermissions[p] {
		return "", ErrUnknownPermission
	}
	return p, nil
}

type permissionSet map[Permission]struct{}

func newPermissionSet(perms []Permission) permissionSet {
	set := make(permissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s permissionSet) has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s permissionSet) list() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
