package verdict

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/service"
	"FinVerdict/pkg/config"
)

var snapshotTS = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func newContext(outputs ...models.HorizonOutput) *models.VerdictContext {
	return &models.VerdictContext{
		Snapshot: models.Snapshot{
			Symbol:    "BTC-USD",
			Timestamp: snapshotTS,
			Regime:    "NEUTRAL",
		},
		Outputs:     outputs,
		Constraints: models.Constraints{AllowShort: true, MaxPositionPct: 0.25},
	}
}

func out(horizon string, er, conf float64) models.HorizonOutput {
	return models.HorizonOutput{Horizon: horizon, ModelID: "model-" + horizon, ExpectedReturn: er, ConfidenceRaw: conf}
}

type calibrationStub struct {
	modifier float64
	err      error
	panics   bool
}

func (c calibrationStub) GetConfidenceModifier(_ context.Context, _ service.CalibrationQuery) (service.CalibrationModifier, error) {
	if c.panics {
		panic("calibration exploded")
	}
	if c.err != nil {
		return service.CalibrationModifier{}, c.err
	}
	return service.CalibrationModifier{Modifier: c.modifier}, nil
}

type healthByHorizon map[string]models.HealthResult

func (h healthByHorizon) GetHealthModifier(_ context.Context, q service.HealthQuery) (models.HealthResult, error) {
	if r, ok := h[q.Horizon]; ok {
		return r, nil
	}
	return models.NeutralHealth(), nil
}

type failingMetaBrain struct{}

func (failingMetaBrain) Adjust(context.Context, service.MetaBrainInput) (service.MetaBrainOutput, error) {
	return service.MetaBrainOutput{}, errors.New("meta-brain unavailable")
}

type recordingMetaBrain struct {
	mu    sync.Mutex
	calls int
}

func (m *recordingMetaBrain) Adjust(_ context.Context, in service.MetaBrainInput) (service.MetaBrainOutput, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return service.MetaBrainOutput{
		Action:         in.Action,
		ExpectedReturn: in.ExpectedReturn,
		Confidence:     in.Confidence,
		Risk:           in.Risk,
	}, nil
}

// blockingPorts never answer before their context ends.
type blockingPorts struct{}

func (blockingPorts) Adjust(ctx context.Context, _ service.MetaBrainInput) (service.MetaBrainOutput, error) {
	<-ctx.Done()
	return service.MetaBrainOutput{}, ctx.Err()
}

func (blockingPorts) GetConfidenceModifier(ctx context.Context, _ service.CalibrationQuery) (service.CalibrationModifier, error) {
	<-ctx.Done()
	return service.CalibrationModifier{}, ctx.Err()
}

func (blockingPorts) GetHealthModifier(ctx context.Context, _ service.HealthQuery) (models.HealthResult, error) {
	<-ctx.Done()
	return models.HealthResult{}, ctx.Err()
}

type panicSizer struct {
	horizon string
	next    PositionSizer
}

func (p panicSizer) Size(in SizingInput) SizingResult {
	if in.Horizon == p.horizon {
		panic("sizer exploded")
	}
	return p.next.Size(in)
}

type metricsSpy struct {
	mu               sync.Mutex
	portFailures     map[string]int
	pipelineFailures int
	fallbacks        int
	evaluations      int
}

func newMetricsSpy() *metricsSpy { return &metricsSpy{portFailures: map[string]int{}} }

func (m *metricsSpy) RecordEvaluation(models.Action, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations++
}

func (m *metricsSpy) RecordPortFailure(port string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portFailures[port]++
}

func (m *metricsSpy) RecordPipelineFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelineFailures++
}

func (m *metricsSpy) RecordFallbackSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *metricsSpy) RecordPublish(string, error) {}

func assertVerdictBounds(t *testing.T, v models.Verdict, maxPct float64) {
	t.Helper()
	assert.GreaterOrEqual(t, v.Confidence, 0.0)
	assert.LessOrEqual(t, v.Confidence, 1.0)
	assert.GreaterOrEqual(t, v.PositionSizePct, 0.0)
	assert.LessOrEqual(t, v.PositionSizePct, maxPct)
	if v.Action == models.ActionHold {
		assert.Zero(t, v.PositionSizePct)
	}
	assert.NotEmpty(t, v.VerdictID)
}

func TestEvaluate_EmptyOutputs(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(context.Background(), newContext())

	assert.Equal(t, models.DefaultHorizon, v.Horizon)
	assert.Equal(t, models.ActionHold, v.Action)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, models.RiskHigh, v.Risk)
	assert.Zero(t, v.PositionSizePct)
	assert.Equal(t, models.NeutralHealth(), v.Health)
	assert.Equal(t, "BTC-USD", v.Symbol)
	assert.Empty(t, v.Adjustments)
}

func TestEvaluate_SingleBullishHorizon(t *testing.T) {
	e := NewEngine(
		WithCalibration(calibrationStub{modifier: 1}),
		WithHealth(healthByHorizon{}),
	)
	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8)))

	assert.Equal(t, models.ActionBuy, v.Action)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
	assert.Greater(t, v.PositionSizePct, 0.0)
	assert.Equal(t, models.HealthHealthy, v.Health.State)
	assert.Equal(t, models.RawEcho{ExpectedReturn: 0.08, ConfidenceRaw: 0.8}, v.Raw)

	cand := models.HorizonCandidate{Action: v.Action, ExpectedReturn: v.ExpectedReturn, Confidence: v.Confidence, Risk: v.Risk}
	assert.Greater(t, ComputeUtility(cand), 0.0)
	assertVerdictBounds(t, v, 0.25)
}

func TestEvaluate_StrongerBearishHorizonWins(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(context.Background(), newContext(
		out("1D", -0.05, 0.9),
		out("30D", 0.01, 0.3),
	))

	assert.Equal(t, "1D", v.Horizon)
	assert.Equal(t, models.ActionSell, v.Action)
	assertVerdictBounds(t, v, 0.25)
}

func TestEvaluate_CriticalHealthScalesConfidence(t *testing.T) {
	critical := models.HealthResult{Modifier: 0.5, State: models.HealthCritical, Notes: "ece breach"}
	e := NewEngine(WithHealth(healthByHorizon{"7D": critical}))

	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8)))

	assert.LessOrEqual(t, v.Confidence, 0.5*0.8+1e-12)
	require.Equal(t, "7D", v.Horizon)
	assert.Equal(t, critical, v.Health)

	var found bool
	for _, a := range v.Adjustments {
		if a.Key == keyHealth {
			found = true
			assert.Equal(t, models.StageCalibration, a.Stage)
			require.NotNil(t, a.DeltaConfidence)
			assert.InDelta(t, -0.4, *a.DeltaConfidence, 1e-9)
		}
	}
	assert.True(t, found, "health adjustment missing")
}

func TestEvaluate_NonPositiveUtilityFallsBackToFirstInput(t *testing.T) {
	t.Run("first input is not the least negative", func(t *testing.T) {
		spy := newMetricsSpy()
		e := NewEngine(WithMetrics(spy))
		v := e.Evaluate(context.Background(), newContext(
			out("1D", 0.005, 0.3), // HOLD/HIGH, utility -0.005
			out("7D", 0.004, 0.6), // HOLD/MEDIUM, utility -0.002
		))

		assert.Equal(t, "1D", v.Horizon)
		assert.Equal(t, models.ActionHold, v.Action)
		assert.Equal(t, models.RiskHigh, v.Risk)
		assert.Equal(t, 1, spy.fallbacks)
	})

	t.Run("fallback keeps a non-HOLD action", func(t *testing.T) {
		e := NewEngine()
		v := e.Evaluate(context.Background(), newContext(
			out("1D", 0.01, 0.36), // BUY/HIGH, utility 0.0036-0.005
			out("7D", 0.005, 0.8), // HOLD/LOW, utility 0
		))

		assert.Equal(t, "1D", v.Horizon)
		assert.Equal(t, models.ActionBuy, v.Action)
		assertVerdictBounds(t, v, 0.25)
	})
}

func TestEvaluate_Idempotent(t *testing.T) {
	rb := DefaultRulebook()
	e := NewEngine(
		WithRulebook(rb),
		WithCalibration(calibrationStub{modifier: 0.9}),
		WithHealth(healthByHorizon{"30D": {Modifier: 0.8, State: models.HealthDegraded}}),
		WithMetaBrain(&recordingMetaBrain{}),
	)
	vctx := newContext(out("1D", 0.02, 0.6), out("7D", 0.06, 0.75), out("30D", -0.03, 0.9))
	vctx.Snapshot.MarketData = models.MarketData{Volatility: 0.1, Volume24h: 50000}

	first := e.Evaluate(context.Background(), vctx)
	second := e.Evaluate(context.Background(), vctx)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("verdicts differ (-first +second):\n%s", diff)
	}
}

func TestEvaluate_LaterOverrideWins(t *testing.T) {
	buy, hold := models.ActionBuy, models.ActionHold
	always := func(models.Snapshot) bool { return true }
	forceBuy := Rule{ID: "force_buy", Severity: "INFO", Override: &buy, When: always}
	forceHold := Rule{ID: "force_hold", Severity: "CRITICAL", Override: &hold, When: always}

	vctx := newContext(out("1D", 0.05, 0.8), out("7D", 0.08, 0.9))

	v := NewEngine(WithRulebook(NewRulebookFromRules(forceBuy, forceHold))).Evaluate(context.Background(), vctx)
	assert.Equal(t, models.ActionHold, v.Action)
	assert.Zero(t, v.PositionSizePct)
	assert.Equal(t, []models.AppliedRule{
		{ID: "force_buy", Severity: "INFO"},
		{ID: "force_hold", Severity: "CRITICAL"},
	}, v.AppliedRules)

	v = NewEngine(WithRulebook(NewRulebookFromRules(forceHold, forceBuy))).Evaluate(context.Background(), vctx)
	assert.Equal(t, models.ActionBuy, v.Action)
	assert.Greater(t, v.PositionSizePct, 0.0)
}

func TestEvaluate_OverrideAgainstForecastHasNoPosition(t *testing.T) {
	buy := models.ActionBuy
	forceBuy := Rule{ID: "force_buy", Severity: "INFO", Override: &buy, When: func(models.Snapshot) bool { return true }}

	v := NewEngine(WithRulebook(NewRulebookFromRules(forceBuy))).Evaluate(context.Background(), newContext(out("7D", -0.05, 0.8)))
	assert.Equal(t, models.ActionBuy, v.Action)
	assert.InDelta(t, -0.05, v.ExpectedReturn, 1e-12)
	assert.Zero(t, v.PositionSizePct)
	for _, a := range v.Adjustments {
		assert.NotEqual(t, keyKelly, a.Key)
	}
}

func TestEvaluate_PositionGrowsWithEdge(t *testing.T) {
	e := NewEngine()
	size := func(er float64) float64 {
		vctx := newContext(out("7D", er, 0.9))
		vctx.Constraints.MaxPositionPct = 1
		v := e.Evaluate(context.Background(), vctx)
		require.Equal(t, models.ActionBuy, v.Action)
		return v.PositionSizePct
	}

	small, mid, large := size(0.02), size(0.05), size(0.15)
	assert.Greater(t, small, 0.0)
	assert.Greater(t, mid, small)
	assert.Greater(t, large, mid)
}

func TestEvaluate_MetaBrainFailureIsNoop(t *testing.T) {
	spy := newMetricsSpy()
	always := func(models.Snapshot) bool { return true }
	damp := Rule{ID: "damp", Severity: "WARN", Adjust: &models.RuleAdjust{ConfidenceMul: ptr(0.9)}, When: always}

	e := NewEngine(
		WithRulebook(NewRulebookFromRules(damp)),
		WithMetaBrain(failingMetaBrain{}),
		WithMetrics(spy),
	)
	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8), out("30D", 0.06, 0.8)))

	assert.InDelta(t, 0.72, v.Confidence, 1e-9)
	assert.Equal(t, 2, spy.portFailures[PortMetaBrain])
	for _, a := range v.Adjustments {
		assert.NotEqual(t, models.StageMetaBrain, a.Stage)
	}
}

func TestEvaluate_MetaBrainGatedByContext(t *testing.T) {
	mb := &recordingMetaBrain{}
	e := NewEngine(WithMetaBrain(mb))

	vctx := newContext(out("7D", 0.08, 0.8))
	disabled := false
	vctx.MetaBrain = &models.MetaBrainOptions{InvariantsEnabled: &disabled}
	e.Evaluate(context.Background(), vctx)
	assert.Zero(t, mb.calls)

	vctx.MetaBrain = &models.MetaBrainOptions{}
	e.Evaluate(context.Background(), vctx)
	assert.Equal(t, 1, mb.calls)
}

func TestEvaluate_MetaBrainActionChangeSurvivesFinalDecision(t *testing.T) {
	e := NewEngine(WithMetaBrain(holdingMetaBrain{}))
	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8)))

	assert.Equal(t, models.ActionHold, v.Action)
	assert.Zero(t, v.PositionSizePct)
	require.NotEmpty(t, v.Adjustments)
	assert.Equal(t, models.StageMetaBrain, v.Adjustments[0].Stage)
	assert.Equal(t, "[7D] position blocked", v.Adjustments[0].Notes)
}

type holdingMetaBrain struct{}

func (holdingMetaBrain) Adjust(_ context.Context, in service.MetaBrainInput) (service.MetaBrainOutput, error) {
	return service.MetaBrainOutput{
		Action:         models.ActionHold,
		ExpectedReturn: in.ExpectedReturn,
		Confidence:     in.Confidence,
		Risk:           models.RiskMedium,
		Adjustments: []models.VerdictAdjustment{
			{Key: "NO_NEW_EXPOSURE", Notes: "position blocked"},
		},
	}, nil
}

func TestEvaluate_CancelledContextStillReturnsVerdict(t *testing.T) {
	defer goleak.VerifyNone(t)

	spy := newMetricsSpy()
	e := NewEngine(
		WithMetaBrain(blockingPorts{}),
		WithCalibration(blockingPorts{}),
		WithHealth(blockingPorts{}),
		WithMetrics(spy),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan models.Verdict, 1)
	go func() { done <- e.Evaluate(ctx, newContext(out("1D", 0.03, 0.7), out("7D", 0.08, 0.8))) }()

	select {
	case v := <-done:
		assert.Equal(t, "7D", v.Horizon)
		assert.InDelta(t, 0.8, v.Confidence, 1e-9)
		assert.Equal(t, models.NeutralHealth(), v.Health)
		assertVerdictBounds(t, v, 0.25)
	case <-time.After(2 * time.Second):
		t.Fatal("evaluate did not return after cancellation")
	}
	assert.Equal(t, 2, spy.portFailures[PortHealth])
}

func TestEvaluate_PortTimeoutDegradesToNeutral(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := defaultEngineConfig()
	cfg.PortTimeout = 20 * time.Millisecond
	e := NewEngine(WithConfig(cfg), WithHealth(blockingPorts{}))

	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8)))
	assert.Equal(t, models.NeutralHealth(), v.Health)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
}

func TestEvaluate_PanicDegradesOnlyItsHorizon(t *testing.T) {
	spy := newMetricsSpy()
	e := NewEngine(
		WithSizer(panicSizer{horizon: "30D", next: KellyLite{Fraction: 0.25, OddsScale: 10}}),
		WithMetrics(spy),
	)
	v := e.Evaluate(context.Background(), newContext(out("30D", 0.1, 0.9), out("7D", 0.05, 0.7)))

	assert.Equal(t, "7D", v.Horizon)
	assert.Equal(t, models.ActionBuy, v.Action)
	assert.Equal(t, 1, spy.pipelineFailures)

	// The failed horizon alone is a HOLD/HIGH stand-in.
	v = e.Evaluate(context.Background(), newContext(out("30D", 0.1, 0.9)))
	assert.Equal(t, models.ActionHold, v.Action)
	assert.Equal(t, models.RiskHigh, v.Risk)
	require.Len(t, v.Adjustments, 1)
	assert.Equal(t, keyPipelineFailure, v.Adjustments[0].Key)
}

func TestEvaluate_PanickingPortIsPortFailure(t *testing.T) {
	spy := newMetricsSpy()
	e := NewEngine(WithCalibration(calibrationStub{panics: true}), WithMetrics(spy))

	v := e.Evaluate(context.Background(), newContext(out("7D", 0.08, 0.8)))
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
	assert.Equal(t, 1, spy.portFailures[PortCalibration])
	assert.Zero(t, spy.pipelineFailures)
}

func TestEvaluate_ShortDisabled(t *testing.T) {
	vctx := newContext(out("7D", -0.06, 0.85))
	vctx.Constraints.AllowShort = false

	v := NewEngine().Evaluate(context.Background(), vctx)
	assert.Equal(t, models.ActionHold, v.Action)
	assert.Zero(t, v.PositionSizePct)

	var keys []string
	for _, a := range v.Adjustments {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, keys, keyShortDisabled)
}

func TestEvaluate_BoundsHoldForHostileInputs(t *testing.T) {
	inputs := [][]models.HorizonOutput{
		{out("1D", math.NaN(), 0.9)},
		{out("1D", math.Inf(1), math.NaN())},
		{out("1D", 0.5, 1.7), out("7D", -0.4, -0.2)},
		{out("4H", 0.3, 0.99), out("7D", 0.3, 0.99), out("30D", -0.9, 1)},
	}
	e := NewEngine(
		WithCalibration(calibrationStub{modifier: 1.5}),
		WithHealth(healthByHorizon{"7D": {Modifier: math.NaN(), State: models.HealthDegraded}}),
	)

	for _, outputs := range inputs {
		vctx := newContext(outputs...)
		vctx.Constraints.MaxPositionPct = 0.1
		v := e.Evaluate(context.Background(), vctx)

		assertVerdictBounds(t, v, 0.1)
		horizons := make([]string, 0, len(outputs))
		for _, o := range outputs {
			horizons = append(horizons, o.Horizon)
		}
		assert.Contains(t, horizons, v.Horizon)
	}
}

func TestEvaluate_ConcurrencyLimitKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := defaultEngineConfig()
	cfg.MaxConcurrency = 1
	e := NewEngine(WithConfig(cfg))

	outputs := make([]models.HorizonOutput, 0, 12)
	for i := 0; i < 12; i++ {
		outputs = append(outputs, out(string(rune('A'+i))+"D", 0.001, 0.2))
	}
	v := e.Evaluate(context.Background(), newContext(outputs...))
	assert.Equal(t, "AD", v.Horizon)
}

func defaultEngineConfig() config.Engine {
	return config.Default().Engine
}
