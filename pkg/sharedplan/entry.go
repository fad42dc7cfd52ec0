package sharedplan

import (
	"sync"
	"sync/atomic"

	"github.com/Voskan/sharedplan/internal/arena"
	"github.com/Voskan/sharedplan/internal/usage"
)

// EvictReason is re-exported from internal/usage, plus the
// invalidation-driven reason this package adds.
type EvictReason = usage.EvictionReason

const (
	ReasonCapacity = usage.ReasonCapacity
	ReasonEvict    = usage.ReasonEvict
	// ReasonDiscard is not a removal: the entry survives, only its plan
	// handle is cleared. No code path in this package reports it; discards
	// are counted through the metrics sink's incDiscard instead.
	ReasonDiscard EvictReason = 100
)

// Entry is a single cached plan slot. Its mutable-counter fields
// (bypass, usage, totalCustomCost, numCustomPlans) are guarded by mu and
// may be updated while the store only holds its RWMutex for reading;
// plan/rels/invitems handles and discard may only be mutated while the
// store's lock is held exclusively (see store.go).
type Entry struct {
	Key Fingerprint

	// NumConst is the number of literal constants the walker counted
	// when this entry was created, carried for introspection only.
	NumConst int

	// mu guards every field below except Lockers, which is atomic so it
	// may be bumped by the Invalidator's LOCK/UNLOCK path without
	// contending on mu.
	mu sync.Mutex

	PlanHandle arena.Handle
	PlanLen    int

	RelsHandle arena.Handle
	NumRels    int

	InvItemsHandle arena.Handle
	NumInvItems    int

	PlanTimeMS  float64
	GenericCost float64

	TotalCustomCost float64
	NumCustomPlans  int

	Bypass int64
	Usage  float64

	Discard uint64

	Lockers atomic.Int32
}

// newEntry constructs an entry with the usage weight the last eviction
// sweep recorded as the current median, so new entries start competitive
// with the established population rather than at a fixed constant.
func newEntry(key Fingerprint, seedUsage float64, numConst int) *Entry {
	return &Entry{Key: key, Usage: seedUsage, NumConst: numConst}
}

// withLock runs fn while holding the entry's own mutex, serializing
// counter updates without contending on the store lock.
func (e *Entry) withLock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// snapshotLocked reads every counter under the entry lock, for use by
// the usage sweep (evictLocked).
func (e *Entry) snapshotLocked() (bypass int64, us float64, totalCustom float64, numCustom int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Bypass, e.Usage, e.TotalCustomCost, e.NumCustomPlans
}
