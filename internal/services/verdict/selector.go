package verdict

import (
	"sort"

	"FinVerdict/internal/domain/models"
)

var riskCost = map[models.Risk]float64{
	models.RiskLow:    0,
	models.RiskMedium: 0.002,
	models.RiskHigh:   0.005,
}

// ComputeUtility scores a candidate: signed edge times confidence, less a risk-tier cost.
func ComputeUtility(c models.HorizonCandidate) float64 {
	cost, ok := riskCost[c.Risk]
	if !ok {
		cost = riskCost[models.RiskHigh]
	}
	u := c.Action.Direction()*c.ExpectedReturn*c.Confidence - cost
	if !finite(u) {
		return -cost
	}
	return u
}

// Select returns the index of the winning candidate. Candidates are ranked by
// utility (stable, descending); when no utility is positive the first
// candidate in input order wins and fallback is true. It returns -1 for an
// empty slice.
func Select(cands []models.HorizonCandidate) (idx int, fallback bool) {
	if len(cands) == 0 {
		return -1, false
	}
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].Utility > cands[order[b]].Utility
	})
	if best := order[0]; cands[best].Utility > 0 {
		return best, false
	}
	return 0, true
}
