package sharedplan

// ArbitrationDecision is the outcome of Arbitrate for one lookup hit.
type ArbitrationDecision struct {
	// UseCached tells the caller to return the stored generic plan
	// instead of invoking the host planner.
	UseCached bool
	// AccumulateCustomStats tells the caller it must still plan custom
	// and report the result via RecordCustomCost, because the sample
	// window has not yet closed.
	AccumulateCustomStats bool
}

// Arbitrate decides whether to reuse the cached generic plan or ask the
// host to plan custom again: below Threshold samples, always plan
// custom and accumulate; at or above it, compare generic cost against
// the running custom-plan average. The entry's own recorded PlanTimeMS
// (the planning time of the originally cached custom plan) is added to
// usage in both branches so recently-seen entries are not the first
// evicted, regardless of which branch is taken.
func Arbitrate(e *Entry, threshold int) ArbitrationDecision {
	var decision ArbitrationDecision

	e.withLock(func() {
		if e.NumCustomPlans < threshold {
			decision.AccumulateCustomStats = true
			e.Usage += e.PlanTimeMS
			return
		}

		avgCustom := e.TotalCustomCost / float64(e.NumCustomPlans)
		if e.GenericCost < avgCustom {
			decision.UseCached = true
			e.Bypass++
			e.Usage += e.PlanTimeMS
		} else {
			decision.AccumulateCustomStats = true
			e.Usage += e.PlanTimeMS
		}
	})

	return decision
}

// RecordCustomCost folds one more observed custom-plan cost into the
// entry's running average, per the caller contract of Arbitrate's
// AccumulateCustomStats branch.
func RecordCustomCost(e *Entry, customCost float64) {
	e.withLock(func() {
		e.TotalCustomCost += customCost
		e.NumCustomPlans++
	})
}

// ApplyCostBias computes an adjusted total cost to report back to the
// host's planner, so that the host's own generic-vs-custom comparison
// prefers the plan this cache is returning.
func ApplyCostBias(originalCost float64, numRels int, threshold int, bypass int64, disablePlanCache bool, cpuOperatorCost float64) float64 {
	if threshold >= PlancacheThreshold {
		return originalCost
	}

	totalDiff := 1000.0 * cpuOperatorCost * float64(numRels+1) * float64(PlancacheThreshold)
	diff := totalDiff/float64(PlancacheThreshold-threshold) + 0.01

	if disablePlanCache {
		if bypass > int64(PlancacheThreshold-threshold) {
			diff = originalCost * 2
		} else {
			diff += originalCost * 2 * float64(threshold)
		}
	}

	newCost := originalCost - diff
	if !disablePlanCache && newCost <= 0 {
		newCost = 0.001
	}
	return newCost
}
