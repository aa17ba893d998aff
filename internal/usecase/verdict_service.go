package usecase

import (
	"context"
	"fmt"
	"time"

	"FinVerdict/internal/domain/models"
	domrepo "FinVerdict/internal/domain/repository"
	"FinVerdict/pkg/config"
	"FinVerdict/pkg/logger"
)

// Evaluator produces one verdict per context.
type Evaluator interface {
	Evaluate(ctx context.Context, vctx *models.VerdictContext) models.Verdict
}

// RuleLister exposes the active guardrails.
type RuleLister interface {
	Specs() []config.RuleConfig
}

// VerdictService evaluates a context, publishes the verdict and fans it out
// to live subscribers. Publication is fail-open: the verdict is always returned.
type VerdictService struct {
	engine      Evaluator
	rules       RuleLister
	publisher   domrepo.VerdictPublisher
	broadcaster domrepo.VerdictBroadcaster
	backend     string
	timeout     time.Duration
	logger      *logger.Logger
	metrics     domrepo.Metrics
}

// ServiceOption configures VerdictService.
type ServiceOption func(*VerdictService)

// WithPublisher sets the downstream publisher and its metrics label.
func WithPublisher(p domrepo.VerdictPublisher, backend string) ServiceOption {
	return func(s *VerdictService) {
		s.publisher = p
		s.backend = backend
	}
}

// WithBroadcaster sets the live fan-out.
func WithBroadcaster(b domrepo.VerdictBroadcaster) ServiceOption {
	return func(s *VerdictService) { s.broadcaster = b }
}

// WithPublishTimeout bounds one publication.
func WithPublishTimeout(d time.Duration) ServiceOption {
	return func(s *VerdictService) { s.timeout = d }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *VerdictService) { s.logger = l }
}

// WithServiceMetrics sets the metrics recorder.
func WithServiceMetrics(m domrepo.Metrics) ServiceOption {
	return func(s *VerdictService) { s.metrics = m }
}

// NewVerdictService wires the engine to the outbound sinks.
func NewVerdictService(engine Evaluator, rules RuleLister, opts ...ServiceOption) *VerdictService {
	s := &VerdictService{
		engine:  engine,
		rules:   rules,
		timeout: 5 * time.Second,
		logger:  logger.Nop(),
		metrics: domrepo.NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate returns the verdict for vctx. The error reports a failed
// publication only; the verdict is valid either way.
func (s *VerdictService) Evaluate(ctx context.Context, vctx *models.VerdictContext) (models.Verdict, error) {
	v := s.engine.Evaluate(ctx, vctx)

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(&v)
	}

	if s.publisher == nil {
		return v, nil
	}
	// Publication outlives a caller that has already gone away.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.publisher.Publish(pctx, &v)
	s.metrics.RecordPublish(s.backend, err)
	if err != nil {
		s.logger.Warn("verdict publish failed",
			logger.String("verdict_id", v.VerdictID),
			logger.String("symbol", v.Symbol),
			logger.String("backend", s.backend),
			logger.Error(err))
		return v, fmt.Errorf("publish: %w", err)
	}
	return v, nil
}

// Rules lists the active guardrails in declaration order.
func (s *VerdictService) Rules() []config.RuleConfig {
	if s.rules == nil {
		return []config.RuleConfig{}
	}
	return s.rules.Specs()
}
