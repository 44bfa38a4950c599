package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/allison-weber/EPAnomoly/internal/domain"
	"github.com/allison-weber/EPAnomoly/internal/observability"
)

// CachedDetector wraps a Detector with an in-memory LRU cache of finished
// runs keyed by detector, variable, and date range.
type CachedDetector struct {
	inner   Detector
	cache   *lruCache[domain.Run]
	metrics *observability.Metrics
}

// NewCachedDetector creates a cache decorator around a detector.
func NewCachedDetector(inner Detector, maxEntries int, metrics *observability.Metrics) *CachedDetector {
	return &CachedDetector{
		inner:   inner,
		cache:   newLRUCache[domain.Run](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedDetector) Detect(ctx context.Context, d domain.Detector, variable string, r domain.DateRange) (domain.Run, error) {
	key := fmt.Sprintf("%s|%s|%s", d, variable, r)
	if run, ok := c.cache.get(key); ok {
		c.metrics.VerdictCache.WithLabelValues("hit").Inc()
		return run, nil
	}
	c.metrics.VerdictCache.WithLabelValues("miss").Inc()

	gen := c.cache.generation()
	run, err := c.inner.Detect(ctx, d, variable, r)
	if err != nil {
		return run, err
	}
	// Cancelled runs are partial and must not be served again.
	if ctx.Err() == nil {
		c.cache.putAt(gen, key, run)
	}
	return run, nil
}

// Purge drops every cached run. Call it after the stored scores change; runs
// that were in flight when it was called are not cached.
func (c *CachedDetector) Purge() {
	c.cache.purge()
}

// Len reports the number of cached runs.
func (c *CachedDetector) Len() int {
	return c.cache.len()
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used

	// gen counts purges; putAt ignores values computed before the last one.
	gen uint64
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(key, value)
}

func (c *lruCache[V]) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// putAt stores value only if no purge happened since generation gen was read.
func (c *lruCache[V]) putAt(gen uint64, key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.insert(key, value)
	return true
}

func (c *lruCache[V]) insert(key string, value V) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.head, c.tail = nil, nil
	c.gen++
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
