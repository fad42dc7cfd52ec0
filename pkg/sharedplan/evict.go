package sharedplan

import (
	"github.com/Voskan/sharedplan/internal/arena"
	"github.com/Voskan/sharedplan/internal/usage"
)

// evictLocked runs one capacity sweep. Caller must already hold
// c.store.mu exclusively; it is only ever called from within cachePlan's
// insertion path.
func (c *Cache) evictLocked() {
	scores := make([]usage.Scored[Fingerprint], 0, len(c.store.entries))
	for key, e := range c.store.entries {
		_, us, _, _ := e.snapshotLocked()
		scores = append(scores, usage.Scored[Fingerprint]{Key: key, Usage: us})
	}

	victims, median := usage.Sweep(scores)

	c.medianMu.Lock()
	c.curMedianUsage = median
	c.medianMu.Unlock()

	for _, key := range victims {
		e, ok := c.store.entries[key]
		if !ok {
			continue
		}
		c.removeEntryLocked(key, e, ReasonCapacity)
	}

	c.dealloc.Add(1)
	c.metrics.incDealloc()
}

// removeEntryLocked frees an entry's arena handles, unregisters every
// reverse-dependency it held, and deletes it from the store. Caller must
// hold c.store.mu exclusively.
func (c *Cache) removeEntryLocked(key Fingerprint, e *Entry, reason EvictReason) {
	dbID := key.DBID

	if e.PlanHandle != arena.NullHandle {
		c.arena.Free(e.PlanHandle, e.PlanLen)
	}

	relBytes := c.arena.Resolve(e.RelsHandle, e.NumRels*8)
	for _, rel := range decodeUint64s(relBytes) {
		c.rdepend.Unregister(RdependKey{DBID: dbID, Class: RdependClassRelation, ObjectID: rel}, key)
	}
	if e.RelsHandle != arena.NullHandle {
		c.arena.Free(e.RelsHandle, e.NumRels*8)
	}

	invBytes := c.arena.Resolve(e.InvItemsHandle, e.NumInvItems*16)
	for _, it := range decodeInvItems(invBytes) {
		c.rdepend.Unregister(RdependKey{DBID: dbID, Class: it.Class, ObjectID: it.ObjectID}, key)
	}
	if e.InvItemsHandle != arena.NullHandle {
		c.arena.Free(e.InvItemsHandle, e.NumInvItems*16)
	}

	c.store.removeLocked(key)
	c.metrics.incEvict(reason)
	c.metrics.setAllocedSize(c.arena.AllocedSize())
	c.metrics.setRdependNum(int64(c.rdepend.Len()))
}
