package sharedplan

import (
	"context"

	"github.com/Voskan/sharedplan/internal/arena"
)

// StatementKind classifies a DDL statement by the cache action it
// requires: evict, discard, discard-with-ancestors/inheritors, a
// LOCK/UNLOCK window around a concurrent operation, or a whole-database
// reset.
type StatementKind int

const (
	StmtDropRelation StatementKind = iota
	StmtDropProcedure
	StmtDropIndex
	StmtDropIndexConcurrently
	StmtAlterTableAccessExclusive
	StmtAlterTableAttachDetachPartition
	StmtAlterTableDetachPartitionConcurrently
	StmtCreateIndex
	StmtCreateTableInherits
	StmtAlterDomain
	StmtAlterFunction
	StmtCreateOrReplaceFunctionExisting
	StmtReindex
	StmtReindexConcurrently
	StmtAlterTextSearchDictionary
)

// Statement is the host DDL observer's description of one utility
// command, reduced to the object identifiers the Invalidator needs.
type Statement struct {
	Kind StatementKind
	DBID uint64

	RelID        uint64
	ProcID       uint64
	DomainTypeID uint64

	// IsPartitioned marks the CREATE INDEX case where the target
	// relation is a partitioned parent, so inheritors must be
	// discarded too.
	IsPartitioned bool

	// Parents lists the inherited-from relations for CREATE TABLE
	// INHERITS/OF.
	Parents []uint64
}

// Invalidator translates DDL notifications into discard/evict/lock
// actions against the entry store and reverse-dependency index.
type Invalidator struct {
	cache    *Cache
	observer DDLObserver
}

// NewInvalidator builds an Invalidator bound to cache and the host's DDL
// observer.
func NewInvalidator(cache *Cache, observer DDLObserver) *Invalidator {
	return &Invalidator{cache: cache, observer: observer}
}

// Apply classifies stmt and applies the corresponding cache action,
// running the host's own DDL execution (runDDL) at the appropriate
// point for that class: after the discard or evict for most
// statements, inside the locked window for LOCK-class statements, and
// before a whole-database Reset for RESET-class statements so the reset
// observes the post-DDL world.
func (inv *Invalidator) Apply(ctx context.Context, stmt Statement, runDDL func() error) error {
	c := inv.cache

	switch stmt.Kind {
	case StmtDropRelation:
		c.evictObject(stmt.DBID, RdependClassRelation, stmt.RelID)
		return runDDL()

	case StmtDropProcedure:
		c.evictObject(stmt.DBID, RdependClassProcedure, stmt.ProcID)
		return runDDL()

	case StmtDropIndex:
		c.discardObject(stmt.DBID, RdependClassRelation, stmt.RelID)
		return runDDL()

	case StmtDropIndexConcurrently, StmtAlterTableDetachPartitionConcurrently, StmtReindexConcurrently:
		return inv.applyLock(stmt.DBID, RdependClassRelation, stmt.RelID, runDDL)

	case StmtAlterTableAccessExclusive:
		c.discardObject(stmt.DBID, RdependClassRelation, stmt.RelID)
		for _, anc := range inv.observer.InheritanceAncestors(stmt.RelID) {
			c.discardObject(stmt.DBID, RdependClassRelation, anc)
		}
		for _, inh := range inv.observer.AllInheritors(stmt.RelID) {
			c.discardObject(stmt.DBID, RdependClassRelation, inh)
		}
		return runDDL()

	case StmtAlterTableAttachDetachPartition:
		c.discardObject(stmt.DBID, RdependClassRelation, stmt.RelID)
		for _, anc := range inv.observer.PartitionAncestors(stmt.RelID) {
			c.discardObject(stmt.DBID, RdependClassRelation, anc)
		}
		return runDDL()

	case StmtCreateIndex:
		c.discardObject(stmt.DBID, RdependClassRelation, stmt.RelID)
		for _, anc := range inv.observer.InheritanceAncestors(stmt.RelID) {
			c.discardObject(stmt.DBID, RdependClassRelation, anc)
		}
		if stmt.IsPartitioned {
			for _, inh := range inv.observer.AllInheritors(stmt.RelID) {
				c.discardObject(stmt.DBID, RdependClassRelation, inh)
			}
		}
		return runDDL()

	case StmtCreateTableInherits:
		for _, parent := range stmt.Parents {
			c.discardObject(stmt.DBID, RdependClassRelation, parent)
			for _, anc := range inv.observer.InheritanceAncestors(parent) {
				c.discardObject(stmt.DBID, RdependClassRelation, anc)
			}
		}
		return runDDL()

	case StmtAlterDomain:
		c.discardObject(stmt.DBID, RdependClassType, stmt.DomainTypeID)
		return runDDL()

	case StmtAlterFunction, StmtCreateOrReplaceFunctionExisting:
		c.discardObject(stmt.DBID, RdependClassProcedure, stmt.ProcID)
		return runDDL()

	case StmtReindex, StmtAlterTextSearchDictionary:
		// Functions, operators and text-search configuration dependencies
		// are not individually tracked, so a whole-database reset is the
		// conservative fallback.
		if err := runDDL(); err != nil {
			return err
		}
		dbid := stmt.DBID
		c.Reset(nil, &dbid, nil)
		return nil

	default:
		return runDDL()
	}
}

// discardObject clears plan_handle (and bumps discard) on every entry
// that depends on the given object, without removing the entry.
func (c *Cache) discardObject(dbID uint64, class RdependClass, objectID uint64) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	rkey := RdependKey{DBID: dbID, Class: class, ObjectID: objectID}
	for _, fp := range c.rdepend.FindAndCopy(rkey) {
		e, ok := c.store.entries[fp]
		if !ok {
			continue
		}
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
}

// evictObject removes every entry that depends on the given object
// entirely.
func (c *Cache) evictObject(dbID uint64, class RdependClass, objectID uint64) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	rkey := RdependKey{DBID: dbID, Class: class, ObjectID: objectID}
	for _, fp := range c.rdepend.FindAndCopy(rkey) {
		if e, ok := c.store.entries[fp]; ok {
			c.removeEntryLocked(fp, e, ReasonEvict)
		}
	}
}

// applyLock implements the LOCK-then-UNLOCK sequence: discard and bump
// lockers under exclusive lock, run the host DDL while holding
// only a shared lock (permitting concurrent lookups but not eviction or
// other invalidation), then reacquire exclusive to decrement lockers.
func (inv *Invalidator) applyLock(dbID uint64, class RdependClass, objectID uint64, runDDL func() error) error {
	c := inv.cache
	rkey := RdependKey{DBID: dbID, Class: class, ObjectID: objectID}

	c.store.mu.Lock()
	fps := c.rdepend.FindAndCopy(rkey)
	for _, fp := range fps {
		if e, ok := c.store.entries[fp]; ok {
			e.withLock(func() {
				if e.PlanHandle != arena.NullHandle {
					c.arena.Free(e.PlanHandle, e.PlanLen)
					e.PlanHandle = arena.NullHandle
					e.PlanLen = 0
					e.Discard++
				}
			})
			e.Lockers.Add(1)
			c.metrics.incLock()
		}
	}
	c.store.mu.Unlock()

	// The host's own transaction is meant to see read_only=true for its
	// remainder once it has taken a concurrent lock; this process-wide
	// Cache only has one ReadOnly flag to approximate that with, so it is
	// forced on for the DDL call and restored after. Concurrent callers
	// toggling SetReadOnly during this window race with this restore,
	// the same known hazard Config.ReadOnly's doc comment already calls
	// out.
	prevReadOnly := c.cfg.ReadOnly
	c.cfg.ReadOnly = true

	c.store.mu.RLock()
	err := runDDL()
	c.store.mu.RUnlock()

	c.cfg.ReadOnly = prevReadOnly

	c.store.mu.Lock()
	for _, fp := range fps {
		if e, ok := c.store.entries[fp]; ok {
			e.Lockers.Add(-1)
			c.metrics.incUnlock()
		}
	}
	c.store.mu.Unlock()

	return err
}
