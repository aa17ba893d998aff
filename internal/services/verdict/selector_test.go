package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"FinVerdict/internal/domain/models"
)

func TestComputeUtility(t *testing.T) {
	buy := models.HorizonCandidate{Action: models.ActionBuy, ExpectedReturn: 0.05, Confidence: 0.8, Risk: models.RiskLow}
	sell := models.HorizonCandidate{Action: models.ActionSell, ExpectedReturn: -0.05, Confidence: 0.8, Risk: models.RiskMedium}
	hold := models.HorizonCandidate{Action: models.ActionHold, ExpectedReturn: 0.05, Confidence: 0.8, Risk: models.RiskHigh}

	assert.InDelta(t, 0.04, ComputeUtility(buy), 1e-12)
	assert.InDelta(t, 0.038, ComputeUtility(sell), 1e-12)
	assert.InDelta(t, -0.005, ComputeUtility(hold), 1e-12)

	stronger := buy
	stronger.Confidence = 0.9
	assert.Greater(t, ComputeUtility(stronger), ComputeUtility(buy))
}

func TestSelect(t *testing.T) {
	idx, fallback := Select(nil)
	assert.Equal(t, -1, idx)
	assert.False(t, fallback)

	idx, fallback = Select([]models.HorizonCandidate{{Utility: 0.01}, {Utility: 0.03}, {Utility: 0.03}})
	assert.Equal(t, 1, idx, "ties keep input order")
	assert.False(t, fallback)

	idx, fallback = Select([]models.HorizonCandidate{{Utility: -0.004}, {Utility: 0}, {Utility: -0.001}})
	assert.Equal(t, 0, idx)
	assert.True(t, fallback)
}
