package storage

import "errors"

// ErrNotFound is returned by Backend.Get when no value exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Backend is the generic key-value persistence boundary. Any durable
// string store satisfies it; the trust layer never assumes anything
// beyond these four operations.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
}
