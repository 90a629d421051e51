// Package cache keeps rendered reports in memory, one slot per subject and period.
package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
)

// Miss and eviction reasons reported to metrics.
const (
	reasonAbsent    = "absent"
	reasonExpired   = "expired"
	reasonIntegrity = "integrity"
	reasonCapacity  = "capacity"
	reasonSweep     = "sweep"
	reasonManual    = "invalidate"
)

// Entry is one rendered document.
type Entry struct {
	Key           uint64
	SubjectID     string
	Period        model.Period
	Bytes         []byte
	GeneratedAt   time.Time
	TTL           time.Duration
	IntegrityHash string

	// seq orders entries stored within the same clock tick.
	seq uint64
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.GeneratedAt.Add(e.TTL))
}

// Stats summarizes cache contents and traffic since start.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// slotLock serializes work on one key. refs counts holders and waiters so
// the lock can be dropped once nobody needs it.
type slotLock struct {
	mu   sync.Mutex
	refs int
}

// Cache is a bounded in-memory store of rendered reports.
//
// The key selects the slot and the integrity hash validates its content: a
// lookup whose hash differs from the stored one evicts the entry and misses.
type Cache struct {
	mu        sync.Mutex
	entries   map[uint64]*Entry
	sizeBytes int64
	seq       uint64

	locksMu sync.Mutex
	locks   map[uint64]*slotLock

	capacity      int
	evictCount    int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	log           logger.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		capacity:      DefaultCapacity,
		evictCount:    DefaultEvictCount,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		log:           logger.Get().Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = make(map[uint64]*Entry, c.capacity)
	c.locks = make(map[uint64]*slotLock)
	return c
}

// Key returns the slot key for a subject and period.
func Key(subjectID string, period model.Period) uint64 {
	return xxhash.Sum64String(subjectID + "|" + strconv.Itoa(period.Month) + "|" + strconv.Itoa(period.Year))
}

// Lookup returns a copy of the cached bytes when the slot holds a live entry
// rendered from the same inputs.
func (c *Cache) Lookup(subjectID string, period model.Period, integrityHash string) ([]byte, bool) {
	key := Key(subjectID, period)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.SubjectID != subjectID || e.Period != period {
		c.miss(reasonAbsent)
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeLocked(key, reasonExpired)
		c.miss(reasonExpired)
		return nil, false
	}
	if e.IntegrityHash != integrityHash {
		c.removeLocked(key, reasonIntegrity)
		c.miss(reasonIntegrity)
		c.log.Debug(context.Background(), "cached render is stale",
			logger.String("subject_id", subjectID),
			logger.String("period", period.String()),
		)
		return nil, false
	}

	c.hits.Add(1)
	metrics.RecordCacheHit()
	return clone(e.Bytes), true
}

// Probe reports whether Lookup would hit without copying bytes or counting
// traffic. Expired and stale entries are still evicted.
func (c *Cache) Probe(subjectID string, period model.Period, integrityHash string) bool {
	key := Key(subjectID, period)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.SubjectID != subjectID || e.Period != period {
		return false
	}
	if e.expired(c.now()) {
		c.removeLocked(key, reasonExpired)
		return false
	}
	if e.IntegrityHash != integrityHash {
		c.removeLocked(key, reasonIntegrity)
		return false
	}
	return true
}

// Store saves a render with the default TTL.
func (c *Cache) Store(subjectID string, period model.Period, data []byte, integrityHash string) {
	c.StoreWithTTL(subjectID, period, data, integrityHash, c.ttl)
}

// StoreWithTTL saves a render that expires after ttl. When the cache is full
// the oldest entries by generation time are evicted first; overwriting an
// existing slot never evicts.
func (c *Cache) StoreWithTTL(subjectID string, period model.Period, data []byte, integrityHash string, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	key := Key(subjectID, period)
	e := &Entry{
		Key:           key,
		SubjectID:     subjectID,
		Period:        period,
		Bytes:         clone(data),
		GeneratedAt:   c.now(),
		TTL:           ttl,
		IntegrityHash: integrityHash,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.entries[key]; exists {
		c.sizeBytes -= int64(len(old.Bytes))
	} else if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.seq++
	e.seq = c.seq
	c.entries[key] = e
	c.sizeBytes += int64(len(e.Bytes))
	c.publishLocked()
}

// Invalidate drops the slot for subject and period, if any.
func (c *Cache) Invalidate(subjectID string, period model.Period) bool {
	key := Key(subjectID, period)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key, reasonManual)
	return true
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.sizeBytes -= int64(len(e.Bytes))
			delete(c.entries, key)
			n++
		}
	}
	if n > 0 {
		c.evictions.Add(int64(n))
		metrics.RecordCacheEviction(reasonSweep, n)
		c.publishLocked()
	}
	return n
}

// Run sweeps on every interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	if c.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug(ctx, "swept expired renders", logger.Int("count", n))
			}
		}
	}
}

// Acquire locks the slot for subject and period and returns its unlock
// function. Holders can look up, render and store without another batch
// rendering the same slot in between.
func (c *Cache) Acquire(subjectID string, period model.Period) func() {
	key := Key(subjectID, period)

	c.locksMu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &slotLock{}
		c.locks[key] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			c.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(c.locks, key)
			}
			c.locksMu.Unlock()
		})
	}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, size := len(c.entries), c.sizeBytes
	c.mu.Unlock()
	return Stats{
		Entries:   entries,
		SizeBytes: size,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evictOldestLocked drops the evictCount entries with the earliest
// GeneratedAt, breaking ties by store order and then by key. Must be called
// with c.mu held.
func (c *Cache) evictOldestLocked() {
	victims := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	sort.SliceStable(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.Before(b.GeneratedAt)
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.Key < b.Key
	})

	n := c.evictCount
	if n < 1 {
		n = 1
	}
	if n > len(victims) {
		n = len(victims)
	}
	for _, e := range victims[:n] {
		c.sizeBytes -= int64(len(e.Bytes))
		delete(c.entries, e.Key)
	}
	c.evictions.Add(int64(n))
	metrics.RecordCacheEviction(reasonCapacity, n)
	c.log.Debug(context.Background(), "cache at capacity, evicted oldest renders",
		logger.Int("evicted", n),
		logger.Int("capacity", c.capacity),
	)
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(key uint64, reason string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.sizeBytes -= int64(len(e.Bytes))
	delete(c.entries, key)
	c.evictions.Add(1)
	metrics.RecordCacheEviction(reason, 1)
	c.publishLocked()
}

func (c *Cache) miss(reason string) {
	c.misses.Add(1)
	metrics.RecordCacheMiss(reason)
}

func (c *Cache) publishLocked() {
	metrics.UpdateCacheSize(len(c.entries), c.sizeBytes)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
