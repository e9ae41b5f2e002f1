package engine

import "errors"

var (
	ErrDatabaseNotFound   = errors.New("database does not exist")
	ErrDatabaseExists     = errors.New("database already exists")
	ErrCollectionNotFound = errors.New("collection does not exist")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrInvalidName        = errors.New("invalid name")
)
