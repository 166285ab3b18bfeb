package backend

import (
	"context"

	"masarif/internal/services"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Result contains the store instance and optional cleanup function.
type Result struct {
	Store   services.RecordStore
	Cleanup CleanupFunc
}

// Factory creates record stores based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
