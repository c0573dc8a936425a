package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"hermes/internal/frame"
)

// Memory is a thread-safe in-process cache with LRU eviction. Sizes are
// estimated from column widths; when an insert would exceed the budget
// the least recently used entries fall off first.
type Memory struct {
	maxBytes int64

	mu       sync.Mutex
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
	curBytes int64
	hits     int64
	misses   int64

	logger *slog.Logger
}

type memoryEntry struct {
	key   string
	f     *frame.Frame
	bytes int64
}

// NewMemory builds an in-process cache bounded to maxSizeMB.
func NewMemory(maxSizeMB int, logger *slog.Logger) *Memory {
	return &Memory{
		maxBytes: int64(maxSizeMB) << 20,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		logger:   logger.With("component", "cache"),
	}
}

// Get returns the cached frame for key, promoting it to most recent.
func (c *Memory) Get(_ context.Context, key string) (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).f, true
}

// Set stores a frame under key, evicting LRU entries to make room. A
// frame larger than the whole budget is not cached.
func (c *Memory) Set(_ context.Context, key string, f *frame.Frame) {
	size := frameBytes(f)
	if size > c.maxBytes {
		c.logger.Warn("frame too large to cache",
			"size_bytes", size,
			"max_bytes", c.maxBytes,
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.curBytes -= el.Value.(*memoryEntry).bytes
		c.order.Remove(el)
		delete(c.entries, key)
	}

	for c.curBytes+size > c.maxBytes && c.order.Len() > 0 {
		oldest := c.order.Back()
		entry := oldest.Value.(*memoryEntry)
		c.curBytes -= entry.bytes
		c.order.Remove(oldest)
		delete(c.entries, entry.key)
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, f: f, bytes: size})
	c.curBytes += size
}

// Clear drops every entry and resets the counters.
func (c *Memory) Clear(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.curBytes = 0
	c.hits = 0
	c.misses = 0
}

// Stats reports hit counters and occupancy.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		SizeMB:  float64(c.curBytes) / (1 << 20),
		MaxMB:   float64(c.maxBytes) / (1 << 20),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *Memory) Close() error { return nil }

// frameBytes estimates the in-memory footprint of a frame: five float
// columns plus a timestamp per row, the symbol strings, and the values
// and validity mask of every extra column.
func frameBytes(f *frame.Frame) int64 {
	rows := int64(f.Len())
	size := rows * (5*8 + 24)
	if f.Symbols != nil {
		size += rows * 16
	}
	size += rows * int64(len(f.ColumnNames())) * 9
	return size
}
