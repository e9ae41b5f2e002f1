package helpers

import (
	"crypto/rand"
	"regexp"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// GenerateUUID returns a random (v4) UUID string.
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateULID returns a lexically sortable unique id, used for sessions and
// request correlation.
func GenerateULID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// IsValidName reports whether name can be used for a database or collection.
// Names become path components, so separators and dots are rejected.
func IsValidName(name string) bool {
	return nameRegex.MatchString(name)
}
