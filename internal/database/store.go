// Package database provides the persisted key-value storage backends.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/archaeo/internal/model"
)

// Store defines the interface for key-value operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
// Values are JSON strings; every call is a discrete read or write.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Get returns the raw value. Missing keys yield an error matching model.ErrNotFound.
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	// Keys lists keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// Open selects a backend by driver name.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return New(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

// GetJSON decodes the value stored under key into v.
func GetJSON(s Store, key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w: %v", key, model.ErrFormat, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key, overwriting any previous value.
func SetJSON(s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, string(b))
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, key, model.ErrStorage, err)
}
