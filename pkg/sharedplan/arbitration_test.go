package sharedplan

import "testing"

func TestArbitrateBelowThresholdAccumulates(t *testing.T) {
	e := newEntry(Fingerprint{}, 1.0, 0)
	e.NumCustomPlans = 0
	decision := Arbitrate(e, 4)
	if !decision.AccumulateCustomStats || decision.UseCached {
		t.Fatalf("Arbitrate below threshold: got %+v, want accumulate-only", decision)
	}
}

func TestArbitrateAtThresholdPrefersCheaperGeneric(t *testing.T) {
	e := newEntry(Fingerprint{}, 1.0, 0)
	e.NumCustomPlans = 4
	e.TotalCustomCost = 400 // avg 100
	e.GenericCost = 10

	decision := Arbitrate(e, 4)
	if !decision.UseCached {
		t.Fatalf("Arbitrate: want UseCached=true when generic cost undercuts average custom cost")
	}
	if e.Bypass != 1 {
		t.Fatalf("Arbitrate: Bypass = %d, want 1", e.Bypass)
	}
}

func TestArbitrateAtThresholdPrefersCustomWhenGenericMoreExpensive(t *testing.T) {
	e := newEntry(Fingerprint{}, 1.0, 0)
	e.NumCustomPlans = 4
	e.TotalCustomCost = 40 // avg 10
	e.GenericCost = 100

	decision := Arbitrate(e, 4)
	if decision.UseCached {
		t.Fatalf("Arbitrate: want UseCached=false when generic cost exceeds average custom cost")
	}
	if !decision.AccumulateCustomStats {
		t.Fatalf("Arbitrate: want AccumulateCustomStats=true on the custom branch")
	}
}

func TestArbitrateFoldsPlanTimeIntoUsageBothBranches(t *testing.T) {
	e1 := newEntry(Fingerprint{}, 0, 0)
	e1.PlanTimeMS = 5
	Arbitrate(e1, 4) // below threshold branch
	if e1.Usage != 5 {
		t.Fatalf("Arbitrate (accumulate branch): Usage = %v, want 5", e1.Usage)
	}

	e2 := newEntry(Fingerprint{}, 0, 0)
	e2.PlanTimeMS = 7
	e2.NumCustomPlans = 4
	e2.TotalCustomCost = 400
	e2.GenericCost = 10
	Arbitrate(e2, 4) // bypass branch
	if e2.Usage != 7 {
		t.Fatalf("Arbitrate (bypass branch): Usage = %v, want 7", e2.Usage)
	}
}

func TestRecordCustomCostAccumulates(t *testing.T) {
	e := newEntry(Fingerprint{}, 0, 0)
	RecordCustomCost(e, 10)
	RecordCustomCost(e, 20)
	if e.NumCustomPlans != 2 {
		t.Fatalf("RecordCustomCost: NumCustomPlans = %d, want 2", e.NumCustomPlans)
	}
	if e.TotalCustomCost != 30 {
		t.Fatalf("RecordCustomCost: TotalCustomCost = %v, want 30", e.TotalCustomCost)
	}
}

func TestApplyCostBiasLowersCostWhenEnabled(t *testing.T) {
	got := ApplyCostBias(100, 1, 4, 0, false, 0.0025)
	if got >= 100 {
		t.Fatalf("ApplyCostBias: got %v, want < original cost 100", got)
	}
	if got <= 0 {
		t.Fatalf("ApplyCostBias: got %v, want > 0 when plan cache is not disabled", got)
	}
}

func TestApplyCostBiasDisablePlanCacheBranch(t *testing.T) {
	// bypass beyond PlancacheThreshold-threshold forces diff = originalCost*2,
	// driving newCost negative; disablePlanCache allows this (no floor).
	got := ApplyCostBias(100, 1, 4, 100, true, 0.0025)
	if got != 100-100*2 {
		t.Fatalf("ApplyCostBias (disable, high bypass): got %v, want %v", got, 100-100*2)
	}
}

func TestApplyCostBiasFloorsAtMinimumWhenNotDisabled(t *testing.T) {
	// A tiny original cost combined with a large per-relation diff must
	// still clamp to the 0.001 floor rather than go negative.
	got := ApplyCostBias(0.0001, 50, 4, 0, false, 0.0025)
	if got != 0.001 {
		t.Fatalf("ApplyCostBias: got %v, want floor 0.001", got)
	}
}

func TestApplyCostBiasReturnsOriginalAtMaxThreshold(t *testing.T) {
	// threshold == PlancacheThreshold would otherwise divide by zero
	// (PlancacheThreshold-threshold == 0) and floor every bypassed plan
	// at 0.001; at this threshold the bias must not apply at all.
	got := ApplyCostBias(123.456, 3, PlancacheThreshold, 0, false, 0.0025)
	if got != 123.456 {
		t.Fatalf("ApplyCostBias at max threshold: got %v, want unchanged 123.456", got)
	}
}
