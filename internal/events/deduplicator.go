package events

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DeduplicationConfig controls the suppression window.
type DeduplicationConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// DefaultDeduplicationConfig returns the stock suppression settings.
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 10000,
	}
}

// ErrorDeduplicator suppresses repeats of the same error within a TTL so a
// flapping component cannot flood the consumers. Entries expire through the
// TTL cache; no background janitor runs, cleanup happens inline.
type ErrorDeduplicator struct {
	config *DeduplicationConfig
	cache  *gocache.Cache

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64

	logger *slog.Logger
}

// DeduplicationStats reports suppression counters.
type DeduplicationStats struct {
	TotalSeen       uint64
	TotalSuppressed uint64
	CurrentEntries  int
}

// NewErrorDeduplicator builds a deduplicator around a TTL cache.
func NewErrorDeduplicator(config *DeduplicationConfig, logger *slog.Logger) *ErrorDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}
	return &ErrorDeduplicator{
		config: config,
		// cleanup interval 0: expired entries are purged inline so the
		// deduplicator owns no goroutine
		cache:  gocache.New(config.TTL, 0),
		logger: logger,
	}
}

// ShouldProcess reports whether the event is the first occurrence within
// the TTL window. Repeats are counted and suppressed.
func (ed *ErrorDeduplicator) ShouldProcess(event ErrorEvent) bool {
	seen := ed.totalSeen.Add(1)

	// Inline housekeeping instead of a janitor goroutine
	if seen%1024 == 0 {
		ed.cache.DeleteExpired()
	}

	key := ed.eventKey(event)
	if count, found := ed.cache.Get(key); found {
		if n, ok := count.(*atomic.Int64); ok {
			n.Add(1)
		}
		ed.totalSuppressed.Add(1)
		return false
	}

	if ed.cache.ItemCount() >= ed.config.MaxEntries {
		// Bound memory before accepting new entries. After a flush,
		// suppression restarts from scratch for every error.
		ed.cache.DeleteExpired()
		if ed.cache.ItemCount() >= ed.config.MaxEntries {
			ed.cache.Flush()
			if ed.logger != nil {
				ed.logger.Warn("deduplication cache flushed", "max_entries", ed.config.MaxEntries)
			}
		}
	}

	counter := &atomic.Int64{}
	counter.Store(1)
	ed.cache.Set(key, counter, gocache.DefaultExpiration)
	return true
}

// eventKey hashes the stable identity of an event. Component, category,
// kind, and message go in; context and timestamp do not.
func (ed *ErrorDeduplicator) eventKey(event ErrorEvent) string {
	h := sha256.New()
	h.Write([]byte(event.GetComponent()))
	h.Write([]byte{0})
	h.Write([]byte(event.GetCategory()))
	h.Write([]byte{0})
	h.Write([]byte(event.GetKind()))
	h.Write([]byte{0})
	h.Write([]byte(event.GetMessage()))
	sum := h.Sum(nil)
	return fmt.Sprintf("%016x", binary.BigEndian.Uint64(sum[:8]))
}

// GetStats returns suppression counters.
func (ed *ErrorDeduplicator) GetStats() DeduplicationStats {
	return DeduplicationStats{
		TotalSeen:       ed.totalSeen.Load(),
		TotalSuppressed: ed.totalSuppressed.Load(),
		CurrentEntries:  ed.cache.ItemCount(),
	}
}

// Shutdown releases the cache contents.
func (ed *ErrorDeduplicator) Shutdown() {
	ed.cache.Flush()
}
