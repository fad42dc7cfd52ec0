package sharedplan

import (
	"strconv"

	"github.com/Voskan/sharedplan/internal/arena"
)

// stagedInsertion holds every arena allocation and reverse-index
// registration made on behalf of one cachePlan call before the store
// lock is taken. Everything staged here is either committed into an
// Entry under the exclusive store lock, or unwound in full on any
// failure.
type stagedInsertion struct {
	planHandle arena.Handle
	planLen    int

	relsHandle arena.Handle
	rels       []uint64

	invItemsHandle arena.Handle
	invItems       []InvalidationItem

	registeredRels     []RdependKey
	registeredInvItems []RdependKey
}

// stage serializes the plan, reserves arena space for it and its
// dependency arrays, and registers every dependency in the reverse
// index. It returns ok=false if any step failed; in that case it has
// already unwound itself (freed arena space, unregistered partial
// rdepend entries) and there is nothing left for the caller to clean up.
func (c *Cache) stage(dbID uint64, key Fingerprint, raw []byte, plan PlannedStmt) (*stagedInsertion, bool) {
	st := &stagedInsertion{}

	planHandle, ok := c.arena.Put(raw)
	if !ok {
		// handleMiss already counted this lookup as a miss; arena
		// exhaustion just means the generic plan never gets staged.
		return nil, false
	}
	st.planHandle = planHandle
	st.planLen = len(raw)

	if len(plan.RelOIDs) > 0 {
		relBytes := encodeUint64s(plan.RelOIDs)
		relsHandle, ok := c.arena.Put(relBytes)
		if !ok {
			c.arena.Free(st.planHandle, st.planLen)
			return nil, false
		}
		st.relsHandle = relsHandle
		st.rels = plan.RelOIDs
	}

	if len(plan.InvItems) > 0 {
		invBytes := encodeInvItems(plan.InvItems)
		invHandle, ok := c.arena.Put(invBytes)
		if !ok {
			c.unwindArena(st)
			return nil, false
		}
		st.invItemsHandle = invHandle
		st.invItems = plan.InvItems
	}

	for _, rel := range plan.RelOIDs {
		rkey := RdependKey{DBID: dbID, Class: RdependClassRelation, ObjectID: rel}
		if err := c.rdepend.Register(rkey, key); err != nil {
			c.unwindRegistrations(key, st)
			c.unwindArena(st)
			return nil, false
		}
		st.registeredRels = append(st.registeredRels, rkey)
	}

	for _, item := range plan.InvItems {
		if item.Class != RdependClassType && item.Class != RdependClassProcedure {
			continue // only types and procedures are tracked as non-relation deps
		}
		rkey := RdependKey{DBID: dbID, Class: item.Class, ObjectID: item.ObjectID}
		if err := c.rdepend.Register(rkey, key); err != nil {
			c.unwindRegistrations(key, st)
			c.unwindArena(st)
			return nil, false
		}
		st.registeredInvItems = append(st.registeredInvItems, rkey)
	}

	return st, true
}

func (c *Cache) unwindRegistrations(key Fingerprint, st *stagedInsertion) {
	for _, rkey := range st.registeredRels {
		c.rdepend.Unregister(rkey, key)
	}
	for _, rkey := range st.registeredInvItems {
		c.rdepend.Unregister(rkey, key)
	}
}

func (c *Cache) unwindArena(st *stagedInsertion) {
	if st.planHandle != arena.NullHandle {
		c.arena.Free(st.planHandle, st.planLen)
	}
	if st.relsHandle != arena.NullHandle {
		c.arena.Free(st.relsHandle, len(st.rels)*8)
	}
	if st.invItemsHandle != arena.NullHandle {
		c.arena.Free(st.invItemsHandle, len(st.invItems)*16)
	}
}

// discardStaged frees everything staged without ever committing it, used
// by the "present, lockers > 0" branch of cachePlan.
func (c *Cache) discardStaged(key Fingerprint, st *stagedInsertion) {
	c.unwindRegistrations(key, st)
	c.unwindArena(st)
}

// cachePlan stages and commits a newly built generic plan into the
// store. raw is the already-serialized generic plan; plan carries its
// cost and dependency lists. dbID/key identify the fingerprint slot. It
// is always called outside c.store's lock; it takes the exclusive lock
// itself only for the commit/reconcile step.
func (c *Cache) cachePlan(dbID uint64, key Fingerprint, raw []byte, plan PlannedStmt, plantimeMS float64, numConst int) {
	sfKey := strconv.FormatUint(key.Hash(), 16)
	_, _, _ = c.insertGroup.Do(sfKey, func() (any, error) {
		st, ok := c.stage(dbID, key, raw, plan)
		if !ok {
			return nil, nil
		}

		c.store.mu.Lock()
		defer c.store.mu.Unlock()

		existing, present := c.store.entries[key]

		switch {
		case !present && len(c.store.entries) >= c.store.max:
			c.evictLocked()
			fallthrough
		case !present:
			e := newEntry(key, c.seedUsage(), numConst)
			c.commitStaged(e, st, plan, plantimeMS)
			c.store.entries[key] = e
			c.metrics.setRdependNum(int64(c.rdepend.Len()))

		case present && existing.PlanHandle == arena.NullHandle && existing.Lockers.Load() == 0:
			existing.withLock(func() {
				existing.PlanHandle = st.planHandle
				existing.PlanLen = st.planLen
				existing.RelsHandle = st.relsHandle
				existing.NumRels = len(st.rels)
				existing.InvItemsHandle = st.invItemsHandle
				existing.NumInvItems = len(st.invItems)
				existing.PlanTimeMS = plantimeMS
				existing.GenericCost = plan.TotalCost
			})

		case present && existing.PlanHandle == arena.NullHandle && existing.Lockers.Load() > 0:
			c.discardStaged(key, st)

		default: // present && existing.PlanHandle != NullHandle: reconcile dependencies only
			c.reconcileDependencies(dbID, key, existing, st)
		}

		return nil, nil
	})
}

func (c *Cache) commitStaged(e *Entry, st *stagedInsertion, plan PlannedStmt, plantimeMS float64) {
	e.withLock(func() {
		e.PlanHandle = st.planHandle
		e.PlanLen = st.planLen
		e.RelsHandle = st.relsHandle
		e.NumRels = len(st.rels)
		e.InvItemsHandle = st.invItemsHandle
		e.NumInvItems = len(st.invItems)
		e.PlanTimeMS = plantimeMS
		e.GenericCost = plan.TotalCost
	})
}

// reconcileDependencies implements step 6's last case: the entry already
// has a live plan (raced with this insertion), so the existing plan wins
// and only the dependency arrays are replaced — old rdepend
// registrations for relations/items no longer present are unregistered,
// and the freshly staged plan buffer is freed since it will never be
// attached.
func (c *Cache) reconcileDependencies(dbID uint64, key Fingerprint, existing *Entry, st *stagedInsertion) {
	oldRels := c.arena.Resolve(existing.RelsHandle, existing.NumRels*8)
	for _, oldRel := range decodeUint64s(oldRels) {
		if !containsUint64(st.rels, oldRel) {
			c.rdepend.Unregister(RdependKey{DBID: dbID, Class: RdependClassRelation, ObjectID: oldRel}, key)
		}
	}
	oldInv := c.arena.Resolve(existing.InvItemsHandle, existing.NumInvItems*16)
	for _, old := range decodeInvItems(oldInv) {
		if !containsInvItem(st.invItems, old) {
			c.rdepend.Unregister(RdependKey{DBID: dbID, Class: old.Class, ObjectID: old.ObjectID}, key)
		}
	}

	if existing.RelsHandle != arena.NullHandle {
		c.arena.Free(existing.RelsHandle, existing.NumRels*8)
	}
	if existing.InvItemsHandle != arena.NullHandle {
		c.arena.Free(existing.InvItemsHandle, existing.NumInvItems*16)
	}

	existing.withLock(func() {
		existing.RelsHandle = st.relsHandle
		existing.NumRels = len(st.rels)
		existing.InvItemsHandle = st.invItemsHandle
		existing.NumInvItems = len(st.invItems)
	})

	// The freshly staged plan is superseded by the existing one; free it.
	if st.planHandle != arena.NullHandle {
		c.arena.Free(st.planHandle, st.planLen)
	}
}

func (c *Cache) seedUsage() float64 {
	c.medianMu.RLock()
	defer c.medianMu.RUnlock()
	return c.curMedianUsage
}

func containsUint64(xs []uint64, v uint64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsInvItem(xs []InvalidationItem, v InvalidationItem) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// --- tiny fixed-width encodings for the arena-held dependency arrays ---

func encodeUint64s(xs []uint64) []byte {
	out := make([]byte, len(xs)*8)
	for i, x := range xs {
		putUint64(out[i*8:], x)
	}
	return out
}

func decodeUint64s(b []byte) []uint64 {
	n := len(b) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = getUint64(b[i*8:])
	}
	return out
}

func encodeInvItems(items []InvalidationItem) []byte {
	out := make([]byte, len(items)*16)
	for i, it := range items {
		putUint64(out[i*16:], uint64(it.Class))
		putUint64(out[i*16+8:], it.ObjectID)
	}
	return out
}

func decodeInvItems(b []byte) []InvalidationItem {
	n := len(b) / 16
	out := make([]InvalidationItem, n)
	for i := 0; i < n; i++ {
		out[i] = InvalidationItem{
			Class:    RdependClass(getUint64(b[i*16:])),
			ObjectID: getUint64(b[i*16+8:]),
		}
	}
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
