package cache

import (
	"strings"
	"sync"
	"time"

	"budgetgoals/internal/core"
)

// AggregateCache memoizes transaction aggregates per (category group, month).
// Entries are only trustworthy while invalidations are delivered, so the
// cache starts disabled and the owner enables it once the invalidation feed
// is live. The TTL only bounds staleness when a single message is lost.
//
// Fills go through Begin/Fill: an invalidation that lands between Begin and
// Fill bumps a generation and the fill is discarded, so a total computed
// before a write is never stored after the write was announced.
type AggregateCache struct {
	lru *LRUCache[core.TransactionAggregate]

	mu       sync.Mutex
	enabled  bool
	epoch    uint64
	monthGen map[string]uint64
	keyGen   map[string]uint64
}

// Ticket captures the generations of one key at the start of a fill.
type Ticket struct {
	epoch, month, key uint64
	valid             bool
}

func NewAggregateCache(maxSize int, ttl time.Duration) *AggregateCache {
	return &AggregateCache{
		lru:      NewLRUCache[core.TransactionAggregate](maxSize, ttl),
		monthGen: make(map[string]uint64),
		keyGen:   make(map[string]uint64),
	}
}

func aggregateKey(groupID string, month core.Month) string {
	return groupID + "|" + month.Key()
}

// Enable starts serving and storing entries.
func (c *AggregateCache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable stops serving entries and drops everything cached so far.
func (c *AggregateCache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.purgeLocked()
}

func (c *AggregateCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *AggregateCache) Get(groupID string, month core.Month) (core.TransactionAggregate, bool) {
	if !c.Enabled() {
		return core.TransactionAggregate{}, false
	}
	return c.lru.Get(aggregateKey(groupID, month))
}

// Begin records the current generations for a key before its value is
// computed.
func (c *AggregateCache) Begin(groupID string, month core.Month) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return Ticket{}
	}
	return Ticket{
		epoch: c.epoch,
		month: c.monthGen[month.Key()],
		key:   c.keyGen[aggregateKey(groupID, month)],
		valid: true,
	}
}

// Fill stores agg unless the key was invalidated since t was issued or the
// cache was disabled meanwhile. It reports whether the value was stored.
func (c *AggregateCache) Fill(t Ticket, groupID string, month core.Month, agg core.TransactionAggregate) bool {
	key := aggregateKey(groupID, month)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.valid || !c.enabled ||
		t.epoch != c.epoch ||
		t.month != c.monthGen[month.Key()] ||
		t.key != c.keyGen[key] {
		return false
	}
	c.lru.Set(key, agg)
	return true
}

// InvalidateMonth drops every group's aggregate for month.
func (c *AggregateCache) InvalidateMonth(month core.Month) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monthGen[month.Key()]++
	suffix := "|" + month.Key()
	return c.lru.DeleteFunc(func(key string) bool { return strings.HasSuffix(key, suffix) })
}

// InvalidateGroup drops a single group's aggregate for month.
func (c *AggregateCache) InvalidateGroup(groupID string, month core.Month) int {
	key := aggregateKey(groupID, month)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyGen[key]++
	return c.lru.DeleteFunc(func(k string) bool { return k == key })
}

// Purge drops everything.
func (c *AggregateCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
}

// purgeLocked also resets the per-key generations; the epoch bump keeps
// tickets issued before the reset from matching the fresh zero values.
func (c *AggregateCache) purgeLocked() {
	c.epoch++
	clear(c.monthGen)
	clear(c.keyGen)
	c.lru.Clear()
}

func (c *AggregateCache) Size() int { return c.lru.Size() }

// CleanExpired implements Cleaner.
func (c *AggregateCache) CleanExpired() int { return c.lru.CleanExpired() }
