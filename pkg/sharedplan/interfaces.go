package sharedplan

import "context"

// PlannedStmt is the host-supplied result of planning a query, in enough
// detail for this module to cost-compare, cache, and reconcile
// dependencies without understanding the plan's internal shape.
type PlannedStmt struct {
	TotalCost float64
	NumRels   int
	// RelOIDs lists the distinct relations the plan reads from, for
	// reverse-dependency registration.
	RelOIDs []uint64
	// InvItems lists non-relation dependencies (types, procedures) the
	// plan depends on.
	InvItems []InvalidationItem
}

// InvalidationItem is one non-relation dependency of a plan.
type InvalidationItem struct {
	Class    RdependClass
	ObjectID uint64
}

// Planner is the host database's planning facade. The core calls
// PlanCustom once per miss and PlanGeneric once more when a plan is
// judged worth caching.
type Planner interface {
	PlanCustom(ctx context.Context, q QueryNode) (PlannedStmt, error)
	PlanGeneric(ctx context.Context, q QueryNode) (PlannedStmt, error)
	// Serialize and Deserialize must be total inverses of each other.
	Serialize(PlannedStmt) ([]byte, error)
	Deserialize([]byte) (PlannedStmt, error)
}

// DDLObserver lets the Invalidator derive the object coordinates a
// utility statement affects without parsing DDL itself.
type DDLObserver interface {
	// InheritanceAncestors returns relid's non-partition inheritance
	// parents.
	InheritanceAncestors(relid uint64) []uint64
	// AllInheritors returns every table that inherits from relid,
	// directly or transitively (used for partitioned-parent DDL).
	AllInheritors(relid uint64) []uint64
	// PartitionAncestors returns relid's partition-parent chain.
	PartitionAncestors(relid uint64) []uint64
}
