package sharedplan

import (
	"hash/maphash"

	"github.com/Voskan/sharedplan/internal/unsafehelpers"
)

// The types below are the host's side of the contract: the host
// database's parsed-query representation, adapted to whatever internal
// node types it uses, must expose these so the walker can traverse it
// without this module parsing SQL itself. The recursion is over
// host-supplied slices instead of a dispatch table on a tagged union,
// which is the idiomatic Go shape for "traverse a tree I don't own the
// definition of".

// RangeTableEntry is one FROM-clause entry of a query.
type RangeTableEntry struct {
	// IsRelation is true for a plain table/view/matview reference.
	IsRelation bool
	// IsTemporary is true if the referenced relation uses session-local
	// storage (a temp table) and therefore can never be shared across
	// workers.
	IsTemporary bool
	// IsSimpleView is true if the relation is a view backed by exactly
	// one SELECT rule, the only view shape this module allows to be
	// cached; anything more elaborate depends on the view's rule tree in
	// ways the walker cannot summarize into a single dependency.
	IsSimpleView bool
	// HasComplexRules is true for a view/relation with attached rules
	// other than the single allowed SELECT rule.
	HasComplexRules bool
	// Inherited marks a "SELECT FROM ONLY/normal" inheritance flag that
	// changes the shape of the generated plan.
	Inherited bool
	// Alias is the range-table entry's alias, if any; folded into
	// const_id because two queries differing only by alias can still
	// require different plans if the alias is referenced downstream.
	Alias string
}

// TargetEntry is one SELECT-list entry.
type TargetEntry struct {
	// ResName is the output column's name, if explicitly given.
	ResName string
}

// ConstNode is a single literal constant appearing in the query.
type ConstNode struct {
	// Serialized is a stable byte-for-byte encoding of the constant's
	// type and value, analogous to PostgreSQL's nodeToString output for
	// a Const node.
	Serialized []byte
}

// FuncCall is a function or operator invocation the walker must ACL-check.
type FuncCall struct {
	// ExecuteAllowed is supplied by the host's catalog/ACL layer; the
	// walker itself never talks to a catalog.
	ExecuteAllowed bool
}

// QueryNode is the host's parsed-query facade the walker traverses.
type QueryNode struct {
	RangeTable  []RangeTableEntry
	TargetList  []TargetEntry
	Consts      []ConstNode
	FuncCalls   []FuncCall
	LimitOption int32
	// GroupingLevelsUp accumulates GroupingFunc agglevelsup values, if any.
	GroupingLevelsUp []int32
	XMLElementNames  []string
	ParamCollations  []uint32
}

// WalkResult is the outcome of fingerprinting a query.
type WalkResult struct {
	Cacheable bool
	ConstID   uint32
	NumConst  int
}

var walkerSeed = maphash.MakeSeed()

// Walk traverses q and computes its secondary const_id, or rejects it as
// non-cacheable. It is pure: it allocates only the returned WalkResult
// and touches no state outside q, so concurrent lookups never contend
// on the walker.
func Walk(q QueryNode) WalkResult {
	var h maphash.Hash
	h.SetSeed(walkerSeed)

	for _, rte := range q.RangeTable {
		if !rte.IsRelation {
			continue
		}
		if rte.IsTemporary {
			return WalkResult{Cacheable: false}
		}
		if rte.HasComplexRules && !rte.IsSimpleView {
			return WalkResult{Cacheable: false}
		}
		foldBool(&h, rte.Inherited)
		foldString(&h, rte.Alias)
	}

	for _, te := range q.TargetList {
		if te.ResName != "" {
			foldString(&h, te.ResName)
		}
	}

	numConst := 0
	for _, c := range q.Consts {
		h.Write(c.Serialized)
		numConst++
	}

	for _, fc := range q.FuncCalls {
		if !fc.ExecuteAllowed {
			return WalkResult{Cacheable: false}
		}
	}

	foldInt32(&h, q.LimitOption)
	for _, lv := range q.GroupingLevelsUp {
		foldInt32(&h, lv)
	}
	for _, name := range q.XMLElementNames {
		foldString(&h, name)
	}
	for _, coll := range q.ParamCollations {
		foldInt32(&h, int32(coll))
	}

	return WalkResult{
		Cacheable: true,
		ConstID:   uint32(h.Sum64()),
		NumConst:  numConst,
	}
}

func foldString(h *maphash.Hash, s string) {
	_, _ = h.Write(unsafehelpers.StringToBytes(s))
}

func foldBool(h *maphash.Hash, b bool) {
	if b {
		h.WriteByte(1)
	} else {
		h.WriteByte(0)
	}
}

func foldInt32(h *maphash.Hash, v int32) {
	var buf [4]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	h.Write(buf[:])
}
