// Package cache provides a small in-process TTL cache used for dashboard
// responses.
package cache

import (
	"log/slog"
	"time"
)

// Cache is the read/write surface handlers use.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic expiry cleanup for its registered caches.
type Manager struct {
	caches []Cleaner
	stop   chan struct{}
	done   chan struct{}
}

// NewManager creates a new cache manager
func NewManager() *Manager {
	return &Manager{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a cache to the cleanup rotation.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// StartCleanup begins periodic cleanup of all registered caches.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range m.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				slog.Debug("Cache cleanup pass", "expired_entries", cleaned)
			}
		case <-m.stop:
			return
		}
	}
}

// Stop halts the cleanup routine and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}
