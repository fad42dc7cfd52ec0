package sharedplan

import "testing"

func TestWalkRejectsTemporaryRelation(t *testing.T) {
	q := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, IsTemporary: true}}}
	wr := Walk(q)
	if wr.Cacheable {
		t.Fatalf("Walk: want Cacheable=false for a temp-table reference")
	}
}

func TestWalkRejectsComplexRuleView(t *testing.T) {
	q := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, HasComplexRules: true, IsSimpleView: false}}}
	wr := Walk(q)
	if wr.Cacheable {
		t.Fatalf("Walk: want Cacheable=false for a non-simple view with complex rules")
	}
}

func TestWalkAllowsSimpleViewWithComplexRules(t *testing.T) {
	q := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, HasComplexRules: true, IsSimpleView: true}}}
	wr := Walk(q)
	if !wr.Cacheable {
		t.Fatalf("Walk: want Cacheable=true for a simple view even if HasComplexRules is set")
	}
}

func TestWalkRejectsACLDeniedFuncCall(t *testing.T) {
	q := QueryNode{FuncCalls: []FuncCall{{ExecuteAllowed: false}}}
	wr := Walk(q)
	if wr.Cacheable {
		t.Fatalf("Walk: want Cacheable=false when a function call is ACL-denied")
	}
}

func TestWalkCountsConstants(t *testing.T) {
	q := QueryNode{Consts: []ConstNode{{Serialized: []byte("a")}, {Serialized: []byte("b")}}}
	wr := Walk(q)
	if !wr.Cacheable {
		t.Fatalf("Walk: want Cacheable=true")
	}
	if wr.NumConst != 2 {
		t.Fatalf("Walk: got NumConst=%d, want 2", wr.NumConst)
	}
}

func TestWalkConstIDStableForIdenticalInput(t *testing.T) {
	build := func() QueryNode {
		return QueryNode{
			RangeTable: []RangeTableEntry{{IsRelation: true, Alias: "t1", Inherited: true}},
			TargetList: []TargetEntry{{ResName: "col1"}},
			Consts:     []ConstNode{{Serialized: []byte{1, 2, 3}}},
		}
	}
	a := Walk(build())
	b := Walk(build())
	if a.ConstID != b.ConstID {
		t.Fatalf("Walk: ConstID not stable across identical input: %d != %d", a.ConstID, b.ConstID)
	}
}

func TestWalkConstIDDiffersOnAlias(t *testing.T) {
	base := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, Alias: "t1"}}}
	other := QueryNode{RangeTable: []RangeTableEntry{{IsRelation: true, Alias: "t2"}}}
	a, b := Walk(base), Walk(other)
	if a.ConstID == b.ConstID {
		t.Fatalf("Walk: ConstID identical despite differing alias")
	}
}

func TestWalkNumConstIndependentOfConstValue(t *testing.T) {
	a := Walk(QueryNode{Consts: []ConstNode{{Serialized: []byte{1}}}})
	b := Walk(QueryNode{Consts: []ConstNode{{Serialized: []byte{2}}}})
	if a.NumConst != 1 || b.NumConst != 1 {
		t.Fatalf("Walk: NumConst mismatch, got %d and %d, want 1 and 1", a.NumConst, b.NumConst)
	}
}
