package verdict

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/repository"
	"FinVerdict/internal/domain/service"
	"FinVerdict/pkg/config"
	"FinVerdict/pkg/logger"
)

// Port names used in logs and metrics.
const (
	PortMetaBrain   = "meta_brain"
	PortCalibration = "calibration"
	PortHealth      = "health"
)

var verdictNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("finverdict/verdict"))

// Engine runs every horizon through the adjustment pipeline and selects one verdict.
type Engine struct {
	rules       *Rulebook
	metaBrain   service.MetaBrainPort
	calibration service.CalibrationPort
	health      service.HealthPort
	sizer       PositionSizer

	thresholds     Thresholds
	maxConcurrency int
	portTimeout    time.Duration
	maxPositionPct float64

	logger  *logger.Logger
	metrics repository.Metrics
}

// Option configures Engine.
type Option func(*Engine)

// WithRulebook sets the guardrails. Default is an empty rulebook.
func WithRulebook(rb *Rulebook) Option {
	return func(e *Engine) { e.rules = rb }
}

// WithMetaBrain sets the invariant enforcement port. Nil disables the stage.
func WithMetaBrain(p service.MetaBrainPort) Option {
	return func(e *Engine) { e.metaBrain = p }
}

// WithCalibration sets the historical calibration port.
func WithCalibration(p service.CalibrationPort) Option {
	return func(e *Engine) { e.calibration = p }
}

// WithHealth sets the shadow-health port.
func WithHealth(p service.HealthPort) Option {
	return func(e *Engine) { e.health = p }
}

// WithSizer replaces the Kelly-lite sizer.
func WithSizer(s PositionSizer) Option {
	return func(e *Engine) { e.sizer = s }
}

// WithConfig applies engine thresholds and limits.
func WithConfig(c config.Engine) Option {
	return func(e *Engine) {
		e.thresholds = Thresholds{MinConfidence: c.MinConfidence, MinEdge: c.MinEdge}
		if c.MaxConcurrency > 0 {
			e.maxConcurrency = c.MaxConcurrency
		}
		if c.PortTimeout > 0 {
			e.portTimeout = c.PortTimeout
		}
		if c.MaxPositionPct > 0 {
			e.maxPositionPct = c.MaxPositionPct
		}
		if c.KellyFraction > 0 && c.OddsScale > 0 {
			e.sizer = KellyLite{Fraction: c.KellyFraction, OddsScale: c.OddsScale}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine. Unset ports are neutral: calibration and health
// leave confidence unchanged and the meta-brain stage is skipped.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:          NewRulebookFromRules(),
		sizer:          KellyLite{Fraction: 0.25, OddsScale: 10},
		thresholds:     Thresholds{MinConfidence: 0.35, MinEdge: 0.01},
		maxConcurrency: 8,
		portTimeout:    2 * time.Second,
		maxPositionPct: 0.25,
		logger:         logger.Nop(),
		metrics:        repository.NopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rulebook returns the active rulebook.
func (e *Engine) Rulebook() *Rulebook {
	return e.rules
}

// Evaluate produces exactly one verdict for vctx. It does not fail: port
// errors, timeouts, cancellation and per-horizon panics all degrade to a
// valid verdict.
func (e *Engine) Evaluate(ctx context.Context, vctx *models.VerdictContext) models.Verdict {
	start := time.Now()
	if vctx == nil {
		vctx = &models.VerdictContext{}
	}
	snap := vctx.Snapshot

	if len(vctx.Outputs) == 0 {
		v := e.emptyVerdict(snap)
		e.logDecision(v, 0, false, time.Since(start))
		return v
	}

	results := ApplyRules(vctx, e.rules.Rules(), e.logger)
	maxPct := e.maxPosition(vctx.Constraints)

	states := make([]state, len(vctx.Outputs))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, out := range vctx.Outputs {
		g.Go(func() error {
			states[i] = e.runHorizon(ctx, vctx, out, results, maxPct)
			return nil
		})
	}
	_ = g.Wait()

	cands := make([]models.HorizonCandidate, len(states))
	for i, s := range states {
		cands[i] = s.candidate()
	}
	idx, fallback := Select(cands)
	if fallback {
		e.metrics.RecordFallbackSelection()
	}

	v := e.buildVerdict(snap, states[idx])
	e.logDecision(v, len(states), fallback, time.Since(start))
	return v
}

// runHorizon is the per-horizon failure boundary.
func (e *Engine) runHorizon(ctx context.Context, vctx *models.VerdictContext, out models.HorizonOutput, results []models.RuleResult, maxPct float64) (s state) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("horizon pipeline panic",
				logger.String("symbol", vctx.Snapshot.Symbol),
				logger.String("horizon", out.Horizon),
				logger.Any("panic", rec),
				logger.String("stack", string(debug.Stack())))
			e.metrics.RecordPipelineFailure(out.Horizon)
			s = degraded(out, fmt.Sprintf("pipeline failure: %v", rec))
		}
	}()

	snap := vctx.Snapshot
	s = newRawState(out, e.thresholds)
	s = applyRuleResults(s, results, e.thresholds)

	if e.metaBrain != nil && vctx.InvariantsEnabled() {
		in := metaBrainInput(s, snap)
		res, err := callPort(ctx, e.portTimeout, func(ctx context.Context) (service.MetaBrainOutput, error) {
			return e.metaBrain.Adjust(ctx, in)
		})
		if err != nil {
			e.portFailed(PortMetaBrain, snap.Symbol, out, err)
			s = skipMetaBrain(s)
		} else {
			s = applyMetaBrain(s, res)
		}
	} else {
		s = skipMetaBrain(s)
	}

	mod := service.CalibrationModifier{Modifier: 1}
	if e.calibration != nil {
		q := service.CalibrationQuery{Symbol: snap.Symbol, ModelID: out.ModelID, Horizon: out.Horizon, Regime: snap.Regime}
		res, err := callPort(ctx, e.portTimeout, func(ctx context.Context) (service.CalibrationModifier, error) {
			return e.calibration.GetConfidenceModifier(ctx, q)
		})
		if err != nil {
			e.portFailed(PortCalibration, snap.Symbol, out, err)
		} else {
			mod = res
		}
	}
	s = applyCalibration(s, mod)

	health := models.NeutralHealth()
	if e.health != nil {
		q := service.HealthQuery{Horizon: out.Horizon, ModelID: out.ModelID}
		res, err := callPort(ctx, e.portTimeout, func(ctx context.Context) (models.HealthResult, error) {
			return e.health.GetHealthModifier(ctx, q)
		})
		if err != nil {
			e.portFailed(PortHealth, snap.Symbol, out, err)
		} else {
			health = res
		}
	}
	s = applyHealth(s, health)

	return finalize(s, e.thresholds, vctx.Constraints, maxPct, e.sizer)
}

// callPort time-boxes fn and converts a panic inside it into an error.
// The result is abandoned if ctx ends first; fn must honour its context.
func callPort[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("port panic: %v", rec)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) portFailed(port, symbol string, out models.HorizonOutput, err error) {
	e.metrics.RecordPortFailure(port)
	e.logger.Warn("port failed, keeping prior stage value",
		logger.String("port", port),
		logger.String("symbol", symbol),
		logger.String("horizon", out.Horizon),
		logger.String("model_id", out.ModelID),
		logger.Error(err))
}

func (e *Engine) maxPosition(c models.Constraints) float64 {
	if c.MaxPositionPct > 0 && finite(c.MaxPositionPct) {
		return clamp01(c.MaxPositionPct)
	}
	return e.maxPositionPct
}

func (e *Engine) buildVerdict(snap models.Snapshot, s state) models.Verdict {
	v := models.Verdict{
		Symbol:          snap.Symbol,
		Timestamp:       snap.Timestamp,
		Horizon:         s.Horizon,
		Action:          s.Action,
		ExpectedReturn:  s.ExpectedReturn,
		Confidence:      s.Confidence,
		Risk:            s.Risk,
		PositionSizePct: s.PositionSizePct,
		Raw:             s.Raw,
		Adjustments:     append([]models.VerdictAdjustment{}, s.Adjustments...),
		AppliedRules:    append([]models.AppliedRule{}, s.AppliedRules...),
		ModelID:         s.ModelID,
		Regime:          snap.Regime,
		Health:          s.Health,
	}
	v.VerdictID = verdictID(v)
	return v
}

func (e *Engine) emptyVerdict(snap models.Snapshot) models.Verdict {
	v := models.Verdict{
		Symbol:       snap.Symbol,
		Timestamp:    snap.Timestamp,
		Horizon:      models.DefaultHorizon,
		Action:       models.ActionHold,
		Confidence:   0,
		Risk:         models.RiskHigh,
		Adjustments:  []models.VerdictAdjustment{},
		AppliedRules: []models.AppliedRule{},
		Regime:       snap.Regime,
		Health:       models.NeutralHealth(),
	}
	v.VerdictID = verdictID(v)
	return v
}

// verdictID is name-based so identical evaluations share an ID.
func verdictID(v models.Verdict) string {
	name := strings.Join([]string{
		v.Symbol,
		v.Timestamp.UTC().Format(time.RFC3339Nano),
		v.Horizon,
		v.ModelID,
		string(v.Action),
		strconv.FormatFloat(v.ExpectedReturn, 'g', -1, 64),
		strconv.FormatFloat(v.Confidence, 'g', -1, 64),
		strconv.FormatFloat(v.PositionSizePct, 'g', -1, 64),
	}, "|")
	return uuid.NewSHA1(verdictNamespace, []byte(name)).String()
}

func (e *Engine) logDecision(v models.Verdict, candidates int, fallback bool, took time.Duration) {
	e.metrics.RecordEvaluation(v.Action, took)
	e.logger.Info("verdict produced",
		logger.String("verdict_id", v.VerdictID),
		logger.String("symbol", v.Symbol),
		logger.String("horizon", v.Horizon),
		logger.String("action", string(v.Action)),
		logger.String("risk", string(v.Risk)),
		logger.Float64("confidence", v.Confidence),
		logger.Float64("expected_return", v.ExpectedReturn),
		logger.Float64("position_size_pct", v.PositionSizePct),
		logger.Int("candidates", candidates),
		logger.Int("applied_rules", len(v.AppliedRules)),
		logger.Bool("fallback", fallback),
		logger.Duration("took_ms", took))
}
