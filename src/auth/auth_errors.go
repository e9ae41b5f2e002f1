package auth

import "errors"

var (
	// ErrUserAlreadyExists is returned when a user already exists in the system.
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrNoRootPassword is returned on first start when there is no users file
	// and no password to create the root user with.
	ErrNoRootPassword = errors.New("no users file and no root password configured")
	ErrInvalidHash    = errors.New("invalid password hash")
)
