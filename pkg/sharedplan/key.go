package sharedplan

import "github.com/Voskan/sharedplan/internal/rdepend"

// AnyUser is the sentinel UserID meaning "this entry is not
// row-security sensitive and is shared across every user".
const AnyUser uint64 = 0

// Fingerprint is the 4-tuple identifying a cache slot: which user (if
// row-security sensitive), which database, the external fingerprinter's
// stable query id, and this module's own secondary constant hash over
// syntax the external fingerprinter ignores.
type Fingerprint struct {
	UserID  uint64
	DBID    uint64
	QueryID uint64
	ConstID uint32
}

// hashCombine folds h2 into h1 using the same 64-bit mixing constant the
// teacher's pkg/cache.go used for its generic key hashing, narrowed here
// to the fixed fields of Fingerprint rather than a type-switch over an
// arbitrary comparable key.
func hashCombine(h1 uint64, h2 uint64) uint64 {
	const mix = 0x9E3779B97F4A7C15
	h1 ^= h2 + mix + (h1 << 6) + (h1 >> 2)
	return h1
}

// Hash returns a combined 64-bit hash of the fingerprint's components,
// used as the singleflight coalescing key for concurrent insertions. The
// store itself is keyed by the Fingerprint value, not by this hash.
func (f Fingerprint) Hash() uint64 {
	h := hashCombine(0, f.UserID)
	h = hashCombine(h, f.DBID)
	h = hashCombine(h, f.QueryID)
	h = hashCombine(h, uint64(f.ConstID))
	return h
}

// RdependKey re-exports rdepend.Key under the sharedplan package so
// callers of Cache never need to import internal/rdepend directly.
type RdependKey = rdepend.Key

// RdependClass re-exports rdepend.Class.
type RdependClass = rdepend.Class

const (
	RdependClassRelation  = rdepend.ClassRelation
	RdependClassType      = rdepend.ClassType
	RdependClassProcedure = rdepend.ClassProcedure
)
