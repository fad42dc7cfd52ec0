// Package sharedplan implements a process-wide, cross-worker cache of
// pre-computed query execution plans, sitting between a database host's
// query planner and its workers so that repeated plannings of the same
// parameterized query can reuse one generic plan instead of replanning
// custom on every execution.
package sharedplan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/sharedplan/internal/arena"
	"github.com/Voskan/sharedplan/internal/rdepend"
	"github.com/Voskan/sharedplan/internal/usage"
)

var errInvalidArenaBytes = errors.New("sharedplan: arenaBytes must be > 0")

// Cache is the top-level plan cache: the entry store, the arena, the
// reverse-dependency index, and the singleflight coalescing used by the
// insertion path, wired together behind the Lookup entry point and the
// Invalidator's Apply (invalidate.go).
type Cache struct {
	cfg     *Config
	store   *store
	arena   *arena.Arena
	rdepend *rdepend.Index[Fingerprint]
	metrics metricsSink
	logger  *zap.Logger

	insertGroup singleflight.Group

	dealloc atomic.Int64

	medianMu       sync.RWMutex
	curMedianUsage float64

	statsResetMu   sync.Mutex
	statsResetTime time.Time
}

// New constructs a Cache with a fixed arena capacity of arenaBytes.
func New(arenaBytes int64, opts ...Option) (*Cache, error) {
	if arenaBytes <= 0 {
		return nil, errInvalidArenaBytes
	}
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	return &Cache{
		cfg:            cfg,
		store:          newStore(cfg.Max),
		arena:          arena.New(arenaBytes),
		rdepend:        rdepend.New[Fingerprint](cfg.RdependMax),
		metrics:        newMetricsSink(cfg.reg),
		logger:         cfg.logger,
		curMedianUsage: usage.Init,
		statsResetTime: time.Now(),
	}, nil
}

// SetReadOnly toggles Config.ReadOnly at runtime. See the field's doc
// comment for the mid-DDL hazard this carries.
func (c *Cache) SetReadOnly(ro bool) { c.cfg.ReadOnly = ro }

// Lookup is the plan-request entry point. It validates cacheability via
// the walker, probes the store, arbitrates a hit, and on a miss (or a
// not-worth-caching walker rejection) falls through to the host
// planner. The cache is always advisory, never a hard dependency for
// producing a plan.
func (c *Cache) Lookup(ctx context.Context, userID, dbID, queryID uint64, q QueryNode, planner Planner) (PlannedStmt, error) {
	if !c.cfg.Enabled || c.cfg.ReadOnly {
		return planner.PlanCustom(ctx, q)
	}

	wr := Walk(q)
	if !wr.Cacheable {
		return planner.PlanCustom(ctx, q)
	}

	key := Fingerprint{UserID: userID, DBID: dbID, QueryID: queryID, ConstID: wr.ConstID}

	if e, ok := c.store.lookup(key); ok {
		return c.handleHit(ctx, dbID, key, e, q, planner)
	}

	return c.handleMiss(ctx, dbID, key, q, planner, wr.NumConst)
}

func (c *Cache) handleHit(ctx context.Context, dbID uint64, key Fingerprint, e *Entry, q QueryNode, planner Planner) (PlannedStmt, error) {
	c.metrics.incHit()

	decision := Arbitrate(e, c.cfg.Threshold)
	if decision.UseCached {
		c.metrics.incBypass()

		// store_lock must stay held across resolve and deserialize: it is
		// the only thing serializing this read against a concurrent
		// discardObject/removeEntryLocked freeing e.PlanHandle and the
		// arena handing that offset to a new allocation mid-read.
		c.store.mu.RLock()
		e.mu.Lock()
		raw := c.arena.Resolve(e.PlanHandle, e.PlanLen)
		numRels := e.NumRels
		bypass := e.Bypass
		plan, err := planner.Deserialize(raw)
		e.mu.Unlock()
		c.store.mu.RUnlock()

		if err != nil {
			c.logger.Warn("sharedplan: serialize mismatch, discarding entry",
				zap.Uint64("query_id", key.QueryID), zap.Error(err))
			c.discardEntry(key, e)
			return planner.PlanCustom(ctx, q)
		}

		plan.TotalCost = ApplyCostBias(plan.TotalCost, numRels, c.cfg.Threshold, bypass, c.cfg.DisablePlanCache, c.cfg.CPUOperatorCost)
		return plan, nil
	}

	custom, err := planner.PlanCustom(ctx, q)
	if err != nil {
		return custom, err
	}
	RecordCustomCost(e, custom.TotalCost)
	c.metrics.incCustomPlan()
	return custom, nil
}

func (c *Cache) handleMiss(ctx context.Context, dbID uint64, key Fingerprint, q QueryNode, planner Planner, numConst int) (PlannedStmt, error) {
	c.metrics.incMiss()

	start := time.Now()
	custom, err := planner.PlanCustom(ctx, q)
	if err != nil {
		return custom, err
	}
	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)

	if elapsedMS <= float64(c.cfg.MinPlanTime)/float64(time.Millisecond) {
		return custom, nil
	}

	generic, err := planner.PlanGeneric(ctx, q)
	if err != nil {
		c.logger.Debug("sharedplan: generic plan build failed, not caching", zap.Error(err))
		return custom, nil
	}
	raw, err := planner.Serialize(generic)
	if err != nil {
		c.logger.Warn("sharedplan: serialize failed, not caching", zap.Error(err))
		return custom, nil
	}

	c.cachePlan(dbID, key, raw, generic, elapsedMS, numConst)
	return custom, nil
}

func (c *Cache) discardEntry(key Fingerprint, e *Entry) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	e.withLock(func() {
		if e.PlanHandle != arena.NullHandle {
			c.arena.Free(e.PlanHandle, e.PlanLen)
			e.PlanHandle = arena.NullHandle
			e.PlanLen = 0
			e.Discard++
		}
	})
	c.metrics.incDiscard()
}

// EntrySnapshot is one row of the introspection surface.
type EntrySnapshot struct {
	UserID, DBID, QueryID uint64
	ConstID               uint32
	NumConst              int
	Bypass                int64
	PlanLen               int
	PlanTimeMS            float64
	TotalCustomCost       float64
	NumCustomPlans        int
	GenericCost           float64
	NumRels               int
	NumInvItems           int
	Discard               uint64
	Lockers               int32
	Rels                  []uint64
}

// Snapshot returns the introspection view of every live entry.
// EntrySnapshot has no plan-text field: rendering a plan as text needs
// the host Planner's Deserialize and a host-supplied renderer, and
// Snapshot takes neither. The Explain* config flags do not affect it.
func (c *Cache) Snapshot() []EntrySnapshot {
	out := make([]EntrySnapshot, 0, c.store.len())
	c.store.forEach(func(e *Entry) {
		e.mu.Lock()
		rels := decodeUint64s(c.arena.Resolve(e.RelsHandle, e.NumRels*8))
		snap := EntrySnapshot{
			UserID: e.Key.UserID, DBID: e.Key.DBID, QueryID: e.Key.QueryID, ConstID: e.Key.ConstID,
			NumConst:        e.NumConst,
			Bypass:          e.Bypass,
			PlanLen:         e.PlanLen,
			PlanTimeMS:      e.PlanTimeMS,
			TotalCustomCost: e.TotalCustomCost,
			NumCustomPlans:  e.NumCustomPlans,
			GenericCost:     e.GenericCost,
			NumRels:         e.NumRels,
			NumInvItems:     e.NumInvItems,
			Discard:         e.Discard,
			Lockers:         e.Lockers.Load(),
			Rels:            rels,
		}
		e.mu.Unlock()
		out = append(out, snap)
	})
	return out
}

// GlobalStats is the cache-wide introspection view.
type GlobalStats struct {
	RdependNum     int
	AllocedSize    int64
	Dealloc        int64
	StatsResetTime time.Time
}

// GlobalStats returns the cache-wide accounting snapshot.
func (c *Cache) GlobalStats() GlobalStats {
	c.statsResetMu.Lock()
	resetAt := c.statsResetTime
	c.statsResetMu.Unlock()
	return GlobalStats{
		RdependNum:     c.rdepend.Len(),
		AllocedSize:    c.arena.AllocedSize(),
		Dealloc:        c.dealloc.Load(),
		StatsResetTime: resetAt,
	}
}

// Reset removes every entry matching the non-nil fields given; all-nil
// means "all". Filters are optional pointers rather than magic zero
// values so that a real id of 0 (e.g. "database 0") still filters
// correctly instead of being mistaken for "unset".
func (c *Cache) Reset(userID, dbID, queryID *uint64) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	total := len(c.store.entries)
	var toRemove []Fingerprint
	for key := range c.store.entries {
		if matchesFilter(key, userID, dbID, queryID) {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		if e, ok := c.store.entries[key]; ok {
			c.removeEntryLocked(key, e, ReasonEvict)
		}
	}

	if len(toRemove) == total {
		c.dealloc.Store(0)
		c.statsResetMu.Lock()
		c.statsResetTime = time.Now()
		c.statsResetMu.Unlock()
	}
}

func matchesFilter(key Fingerprint, userID, dbID, queryID *uint64) bool {
	if userID != nil && key.UserID != *userID {
		return false
	}
	if dbID != nil && key.DBID != *dbID {
		return false
	}
	if queryID != nil && key.QueryID != *queryID {
		return false
	}
	return true
}

// Len returns the current number of live entries.
func (c *Cache) Len() int { return c.store.len() }

// AllocedSize returns the arena's current accounted byte usage.
func (c *Cache) AllocedSize() int64 { return c.arena.AllocedSize() }

// Close releases the store. The arena's backing buffer is left for the
// garbage collector, mirroring "pinned to process shutdown" — there is
// no cross-process shared segment to unmap in this Go translation.
func (c *Cache) Close() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.entries = make(map[Fingerprint]*Entry)
}
