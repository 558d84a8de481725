package presence

import (
	"log/slog"
	"sync"
)

// counter is a map of non-negative counts. Zero counts are removed, and a
// decrement below zero is clamped and reported instead of applied.
type counter[K comparable] struct {
	name    string
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	counts map[K]int
}

func newCounter[K comparable](name string, logger *slog.Logger, metrics *Metrics) *counter[K] {
	if logger == nil {
		logger = slog.Default()
	}
	return &counter[K]{
		name:    name,
		logger:  logger,
		metrics: metrics,
		counts:  make(map[K]int),
	}
}

func (c *counter[K]) inc(key K) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}

func (c *counter[K]) dec(key K) int {
	c.mu.Lock()
	current, ok := c.counts[key]
	switch {
	case !ok || current <= 0:
		delete(c.counts, key)
		c.mu.Unlock()
		c.logger.Warn("counter decrement clamped at zero", "ledger", c.name, "key", key)
		c.metrics.IncClamp(c.name)
		return 0
	case current == 1:
		delete(c.counts, key)
		c.mu.Unlock()
		return 0
	default:
		c.counts[key] = current - 1
		c.mu.Unlock()
		return current - 1
	}
}

func (c *counter[K]) get(key K) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *counter[K]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

// GroupLedger is a best-effort estimate of how many members of each group
// are online. It is not an authoritative membership count.
type GroupLedger struct {
	counts *counter[GroupID]
}

func NewGroupLedger(logger *slog.Logger, metrics *Metrics) *GroupLedger {
	return &GroupLedger{counts: newCounter[GroupID]("group", logger, metrics)}
}

func (l *GroupLedger) Increment(group GroupID) int { return l.counts.inc(group) }

// Decrement lowers the live count of group, never below zero.
func (l *GroupLedger) Decrement(group GroupID) int { return l.counts.dec(group) }

func (l *GroupLedger) Get(group GroupID) int { return l.counts.get(group) }

// Groups returns the number of groups with at least one live member.
func (l *GroupLedger) Groups() int { return l.counts.len() }

// VideoLedger counts signaling peers per video room. Every join and leave is
// counted on its own; there is no per-user multiplicity.
type VideoLedger struct {
	counts *counter[VideoRoomID]
}

func NewVideoLedger(logger *slog.Logger, metrics *Metrics) *VideoLedger {
	return &VideoLedger{counts: newCounter[VideoRoomID]("video", logger, metrics)}
}

func (l *VideoLedger) Join(room VideoRoomID) int { return l.counts.inc(room) }

// Leave removes one peer from room. Leaving an empty room yields 0.
func (l *VideoLedger) Leave(room VideoRoomID) int { return l.counts.dec(room) }

func (l *VideoLedger) Get(room VideoRoomID) int { return l.counts.get(room) }

// Rooms returns the number of video rooms with at least one peer.
func (l *VideoLedger) Rooms() int { return l.counts.len() }
