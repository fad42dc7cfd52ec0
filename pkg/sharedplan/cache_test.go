package sharedplan

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// fakePlanner is a scriptable Planner used across this package's tests. It
// serializes a PlannedStmt as a fixed-width record (cost, rel count, rel
// ids, inv item count, inv items) so Serialize/Deserialize round-trip
// exactly, matching P7.
type fakePlanner struct {
	customCost  float64
	genericCost float64
	rels        []uint64
	invItems    []InvalidationItem
	failCustom  error
	failGeneric error
}

func (p *fakePlanner) PlanCustom(_ context.Context, _ QueryNode) (PlannedStmt, error) {
	if p.failCustom != nil {
		return PlannedStmt{}, p.failCustom
	}
	return PlannedStmt{TotalCost: p.customCost, NumRels: len(p.rels), RelOIDs: p.rels, InvItems: p.invItems}, nil
}

func (p *fakePlanner) PlanGeneric(_ context.Context, _ QueryNode) (PlannedStmt, error) {
	if p.failGeneric != nil {
		return PlannedStmt{}, p.failGeneric
	}
	return PlannedStmt{TotalCost: p.genericCost, NumRels: len(p.rels), RelOIDs: p.rels, InvItems: p.invItems}, nil
}

func (p *fakePlanner) Serialize(plan PlannedStmt) ([]byte, error) {
	buf := make([]byte, 8+8+len(plan.RelOIDs)*8+8+len(plan.InvItems)*16)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(plan.NumRels))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(plan.RelOIDs)))
	off += 8
	for _, r := range plan.RelOIDs {
		binary.LittleEndian.PutUint64(buf[off:], r)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(plan.InvItems)))
	off += 8
	for _, it := range plan.InvItems {
		binary.LittleEndian.PutUint64(buf[off:], uint64(it.Class))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], it.ObjectID)
		off += 8
	}
	return buf, nil
}

func (p *fakePlanner) Deserialize(b []byte) (PlannedStmt, error) {
	if len(b) < 16 {
		return PlannedStmt{}, errors.New("fakePlanner: truncated payload")
	}
	off := 0
	numRels := int(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	nRelIDs := int(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	rels := make([]uint64, nRelIDs)
	for i := range rels {
		rels[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	nInv := int(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	items := make([]InvalidationItem, nInv)
	for i := range items {
		items[i].Class = RdependClass(binary.LittleEndian.Uint64(b[off:]))
		off += 8
		items[i].ObjectID = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	return PlannedStmt{TotalCost: p.genericCost, NumRels: numRels, RelOIDs: rels, InvItems: items}, nil
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	allOpts := append([]Option{WithMax(8), WithMinPlanTime(0), WithThreshold(1)}, opts...)
	c, err := New(1<<20, allOpts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestLookupMissThenHitBypass(t *testing.T) {
	c := newTestCache(t)
	planner := &fakePlanner{customCost: 100, genericCost: 10, rels: []uint64{42}}
	q := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true}}}
	ctx := context.Background()

	if _, err := c.Lookup(ctx, AnyUser, 1, 7, q, planner); err != nil {
		t.Fatalf("Lookup (miss): %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len after miss: got %d, want 1", c.Len())
	}

	// Threshold=1: the first hit has no custom-plan sample yet, so it plans
	// custom and records one; the hit after that arbitrates and bypasses.
	if _, err := c.Lookup(ctx, AnyUser, 1, 7, q, planner); err != nil {
		t.Fatalf("Lookup (first hit): %v", err)
	}
	plan, err := c.Lookup(ctx, AnyUser, 1, 7, q, planner)
	if err != nil {
		t.Fatalf("Lookup (hit): %v", err)
	}
	if plan.NumRels != 1 || plan.RelOIDs[0] != 42 {
		t.Fatalf("Lookup (hit): got plan %+v, want rel 42", plan)
	}
	if snaps := c.Snapshot(); len(snaps) != 1 || snaps[0].Bypass != 1 {
		t.Fatalf("Lookup (hit): got %+v, want one entry with Bypass 1", snaps)
	}
}

func TestLookupDisabledFallsThroughToCustom(t *testing.T) {
	c := newTestCache(t, WithMax(8))
	c.cfg.Enabled = false
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{}

	plan, err := c.Lookup(context.Background(), AnyUser, 1, 1, q, planner)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if plan.TotalCost != 100 {
		t.Fatalf("Lookup (disabled): got cost %v, want custom cost 100", plan.TotalCost)
	}
	if c.Len() != 0 {
		t.Fatalf("Lookup (disabled): Len = %d, want 0 (must never cache)", c.Len())
	}
}

func TestLookupReadOnlyNeverCaches(t *testing.T) {
	c := newTestCache(t)
	c.SetReadOnly(true)
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{}

	if _, err := c.Lookup(context.Background(), AnyUser, 1, 1, q, planner); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Lookup (read-only): Len = %d, want 0", c.Len())
	}
}

func TestLookupRejectsTempTableWithoutCaching(t *testing.T) {
	c := newTestCache(t)
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, IsTemporary: true}}}

	if _, err := c.Lookup(context.Background(), AnyUser, 1, 1, q, planner); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Lookup (temp table): Len = %d, want 0", c.Len())
	}
}

func TestLookupSkipsCachingBelowMinPlanTime(t *testing.T) {
	c := newTestCache(t, WithMinPlanTime(1000000000)) // effectively never fast enough is irrelevant; 1s floor
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{}

	if _, err := c.Lookup(context.Background(), AnyUser, 1, 1, q, planner); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Lookup (below MinPlanTime): Len = %d, want 0", c.Len())
	}
}

func TestResetAllClearsEverythingAndStats(t *testing.T) {
	c := newTestCache(t)
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{}
	ctx := context.Background()
	_, _ = c.Lookup(ctx, AnyUser, 1, 1, q, planner)
	_, _ = c.Lookup(ctx, AnyUser, 2, 2, q, planner)

	if c.Len() != 2 {
		t.Fatalf("Len before reset: got %d, want 2", c.Len())
	}
	c.Reset(nil, nil, nil)
	if c.Len() != 0 {
		t.Fatalf("Len after full reset: got %d, want 0", c.Len())
	}
}

func TestResetFiltersByDBID(t *testing.T) {
	c := newTestCache(t)
	planner := &fakePlanner{customCost: 100, genericCost: 10}
	q := QueryNode{}
	ctx := context.Background()
	_, _ = c.Lookup(ctx, AnyUser, 1, 1, q, planner)
	_, _ = c.Lookup(ctx, AnyUser, 2, 2, q, planner)

	dbID := uint64(1)
	c.Reset(nil, &dbID, nil)
	if c.Len() != 1 {
		t.Fatalf("Len after filtered reset: got %d, want 1", c.Len())
	}
}

func TestSnapshotReflectsLiveEntries(t *testing.T) {
	c := newTestCache(t)
	planner := &fakePlanner{customCost: 100, genericCost: 10, rels: []uint64{5, 6}}
	q := QueryNode{}
	_, _ = c.Lookup(context.Background(), AnyUser, 1, 1, q, planner)

	snaps := c.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("Snapshot: got %d entries, want 1", len(snaps))
	}
	if len(snaps[0].Rels) != 2 {
		t.Fatalf("Snapshot: got %d rels, want 2", len(snaps[0].Rels))
	}
}
