// Package pricecache holds the most recent price per instrument with a fixed
// time-to-live and a bounded number of tracked symbols.
package pricecache

import (
	"container/list"
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultCapacity      = 10_000
	DefaultShards        = 32
	DefaultSweepInterval = 30 * time.Second

	defaultMirrorQueueSize = 1024
	defaultMirrorTimeout   = 2 * time.Second
)

type Config struct {
	TTL           time.Duration
	Capacity      int
	Shards        int
	SweepInterval time.Duration
	Mirror        Mirror
	Now           func() time.Time
}

func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		Capacity:      DefaultCapacity,
		Shards:        DefaultShards,
		SweepInterval: DefaultSweepInterval,
		Now:           time.Now,
	}
}

type Stats struct {
	Size          int    `json:"size"`
	Capacity      int    `json:"capacity"`
	Evictions     uint64 `json:"evictions"`
	Expirations   uint64 `json:"expirations"`
	MirrorDropped uint64 `json:"mirrorDropped"`
}

// Cache is safe for concurrent use. Writes to different symbols only contend
// on their own shard; the cache-wide eviction lock is taken when a new symbol
// pushes the cache over capacity.
type Cache struct {
	shards        []*shard
	ttl           time.Duration
	capacity      int
	sweepInterval time.Duration
	now           func() time.Time

	size atomic.Int64
	seq  atomic.Uint64

	evictMu sync.Mutex

	mirror      Mirror
	mirrorQueue chan entity.PriceUpdate

	evictions     atomic.Uint64
	expirations   atomic.Uint64
	mirrorDropped atomic.Uint64
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*list.Element
	// order is sorted by write sequence, oldest at the front. With a fixed
	// TTL it is sorted by expiry as well.
	order *list.List
}

type entry struct {
	update    entity.PriceUpdate
	expiresAt time.Time
	seq       uint64
}

func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Cache{
		shards:        make([]*shard, cfg.Shards),
		ttl:           cfg.TTL,
		capacity:      cfg.Capacity,
		sweepInterval: cfg.SweepInterval,
		now:           cfg.Now,
		mirror:        cfg.Mirror,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items: make(map[string]*list.Element),
			order: list.New(),
		}
	}
	if c.mirror != nil {
		c.mirrorQueue = make(chan entity.PriceUpdate, defaultMirrorQueueSize)
	}

	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put stores update as the latest price for its symbol and restarts the
// symbol's expiry window. Arrival order wins; the source timestamp is not
// consulted.
func (c *Cache) Put(update entity.PriceUpdate) {
	update.Symbol = entity.NormalizeSymbol(update.Symbol)
	if update.Symbol == "" {
		return
	}

	c.store(update, c.now().Add(c.ttl))

	if c.mirrorQueue != nil {
		select {
		case c.mirrorQueue <- update:
		default:
			c.mirrorDropped.Add(1)
		}
	}
}

func (c *Cache) store(update entity.PriceUpdate, expiresAt time.Time) {
	sh := c.shardFor(update.Symbol)

	sh.mu.Lock()
	if el, ok := sh.items[update.Symbol]; ok {
		e := el.Value.(*entry)
		e.update = update
		e.expiresAt = expiresAt
		e.seq = c.seq.Add(1)
		sh.order.MoveToBack(el)
		sh.mu.Unlock()
		return
	}

	sh.items[update.Symbol] = sh.order.PushBack(&entry{
		update:    update,
		expiresAt: expiresAt,
		seq:       c.seq.Add(1),
	})
	sh.mu.Unlock()

	if c.size.Add(1) > int64(c.capacity) {
		c.evictOverflow()
	}
}

// Get returns the live entry for symbol. It never blocks on I/O.
func (c *Cache) Get(symbol string) (entity.PriceUpdate, bool) {
	symbol = entity.NormalizeSymbol(symbol)
	if symbol == "" {
		return entity.PriceUpdate{}, false
	}

	now := c.now()
	sh := c.shardFor(symbol)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	el, ok := sh.items[symbol]
	if !ok {
		return entity.PriceUpdate{}, false
	}

	e := el.Value.(*entry)
	if !now.Before(e.expiresAt) {
		return entity.PriceUpdate{}, false
	}

	return e.update, true
}

// GetMany returns the live entries among symbols. Unknown or expired symbols
// are omitted; duplicates in the input are returned once.
func (c *Cache) GetMany(symbols []string) []entity.PriceUpdate {
	result := make([]entity.PriceUpdate, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))

	for _, symbol := range symbols {
		symbol = entity.NormalizeSymbol(symbol)
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}

		if update, ok := c.Get(symbol); ok {
			result = append(result, update)
		}
	}

	return result
}

// Len reports the number of tracked symbols, including expired entries that
// have not been swept yet.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

func (c *Cache) Stats() Stats {
	return Stats{
		Size:          c.Len(),
		Capacity:      c.capacity,
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		MirrorDropped: c.mirrorDropped.Load(),
	}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0

	for _, sh := range c.shards {
		sh.mu.Lock()
		expired := 0
		for el := sh.order.Front(); el != nil; {
			e := el.Value.(*entry)
			if now.Before(e.expiresAt) {
				break
			}
			next := el.Next()
			sh.order.Remove(el)
			delete(sh.items, e.update.Symbol)
			expired++
			el = next
		}
		// size must never run ahead of the shards or Put evicts live entries
		if expired > 0 {
			c.size.Add(-int64(expired))
			c.expirations.Add(uint64(expired))
		}
		sh.mu.Unlock()
		removed += expired
	}

	return removed
}

// Run sweeps expired entries periodically and drains the mirror queue until
// ctx is done.
func (c *Cache) Run(ctx context.Context) {
	if c.mirror != nil {
		go c.runMirror(ctx)
	}

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				logrus.WithFields(logrus.Fields{
					"removed": removed,
					"size":    c.Len(),
				}).Debug("price cache swept expired entries")
			}
		}
	}
}

// Warm loads the mirrored snapshot. Entries keep the expiry they had when
// they were received and are not written back to the mirror.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.mirror == nil {
		return 0, nil
	}

	snapshots, err := c.mirror.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ReceivedAt.Before(snapshots[j].ReceivedAt)
	})

	now := c.now()
	loaded := 0
	for _, update := range snapshots {
		update.Symbol = entity.NormalizeSymbol(update.Symbol)
		if update.Symbol == "" || update.ReceivedAt.IsZero() {
			continue
		}
		expiresAt := update.ReceivedAt.Add(c.ttl)
		if !now.Before(expiresAt) {
			continue
		}
		c.store(update, expiresAt)
		loaded++
	}

	return loaded, nil
}

func (c *Cache) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-c.mirrorQueue:
			saveCtx, cancel := context.WithTimeout(ctx, defaultMirrorTimeout)
			err := c.mirror.Save(saveCtx, update, c.ttl)
			cancel()
			if err != nil {
				logrus.WithError(err).WithField("symbol", update.Symbol).Warn("failed to mirror price snapshot")
			}
		}
	}
}

func (c *Cache) evictOverflow() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	for c.size.Load() > int64(c.capacity) {
		victim, victimSeq := c.oldestShard()
		if victim == nil {
			return
		}

		victim.mu.Lock()
		if el := victim.order.Front(); el != nil {
			e := el.Value.(*entry)
			// the head may have been rewritten since it was inspected
			if e.seq == victimSeq {
				victim.order.Remove(el)
				delete(victim.items, e.update.Symbol)
				c.size.Add(-1)
				c.evictions.Add(1)
			}
		}
		victim.mu.Unlock()
	}
}

func (c *Cache) oldestShard() (*shard, uint64) {
	var (
		victim *shard
		minSeq uint64 = math.MaxUint64
	)

	for _, sh := range c.shards {
		sh.mu.RLock()
		if el := sh.order.Front(); el != nil {
			if seq := el.Value.(*entry).seq; seq < minSeq {
				minSeq = seq
				victim = sh
			}
		}
		sh.mu.RUnlock()
	}

	return victim, minSeq
}

func (c *Cache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}
