package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/usecase"
	"FinVerdict/pkg/config"
	xhttp "FinVerdict/pkg/http"
	xlogger "FinVerdict/pkg/logger"
	"FinVerdict/pkg/queue"
)

// VerdictService is the use case behind the handler.
type VerdictService interface {
	Evaluate(ctx context.Context, vctx *models.VerdictContext) (models.Verdict, error)
	Rules() []config.RuleConfig
}

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	Allow(key string) bool
}

// VerdictHandler exposes the verdict engine over HTTP.
type VerdictHandler struct {
	logger  *xlogger.Logger
	svc     VerdictService
	limiter RateLimiter
	queue   queue.QueueService
}

// NewVerdictHandler creates the handler. limiter and q may be nil.
func NewVerdictHandler(logger *xlogger.Logger, svc VerdictService, limiter RateLimiter, q queue.QueueService) *VerdictHandler {
	return &VerdictHandler{logger: logger, svc: svc, limiter: limiter, queue: q}
}

func (h *VerdictHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/verdict")
	g.POST("/evaluate", h.Evaluate, h.rateLimit)
	g.POST("/enqueue", h.Enqueue, h.rateLimit)
	g.GET("/rules", h.Rules)
}

func (h *VerdictHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// Evaluate runs one evaluation synchronously and returns the verdict.
func (h *VerdictHandler) Evaluate(c echo.Context) error {
	req := &models.VerdictContext{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	v, err := h.svc.Evaluate(c.Request().Context(), req)
	if err != nil {
		// publication failures are already logged and counted; the verdict stands
		h.logger.Debug("evaluate returned with publish error", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, v)
}

type enqueueResponse struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Enqueue validates the context and hands it to the Redis queue.
func (h *VerdictHandler) Enqueue(c echo.Context) error {
	if h.queue == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("queue disabled"))
	}
	req := &models.VerdictContext{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.queue.PublishMessage(c.Request().Context(), usecase.JobTypeEvaluate, req); err != nil {
		h.logger.Error("enqueue verdict job", xlogger.String("symbol", req.Snapshot.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("queue unavailable").WithError(err))
	}
	return xhttp.AcceptedResponse(c, enqueueResponse{Type: usecase.JobTypeEvaluate, Symbol: req.Snapshot.Symbol})
}

// Rules lists the active guardrails.
func (h *VerdictHandler) Rules(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Rules())
}
