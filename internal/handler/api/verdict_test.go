package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/services/verdict"
	"FinVerdict/internal/usecase"
	"FinVerdict/pkg/config"
	"FinVerdict/pkg/logger"
)

const validBody = `{
  "snapshot": {"symbol": "BTC", "ts": "2024-03-01T12:00:00Z", "regime": "BULL"},
  "outputs": [
    {"horizon": "1D", "modelId": "gbm-v1", "expectedReturn": 0.01, "confidenceRaw": 0.36},
    {"horizon": "7D", "modelId": "lstm-v2", "expectedReturn": 0.05, "confidenceRaw": 0.8}
  ],
  "constraints": {"allowShort": false, "maxPositionPct": 0.2}
}`

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type fakeQueue struct {
	types []string
	err   error
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, _ interface{}) error {
	q.types = append(q.types, msgType)
	return q.err
}

func newTestEcho(limiter RateLimiter, q *fakeQueue) *echo.Echo {
	engine := verdict.NewEngine(verdict.WithRulebook(verdict.DefaultRulebook()))
	svc := usecase.NewVerdictService(engine, engine.Rulebook())
	var h *VerdictHandler
	if q != nil {
		h = NewVerdictHandler(logger.Nop(), svc, limiter, q)
	} else {
		h = NewVerdictHandler(logger.Nop(), svc, limiter, nil)
	}
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestEvaluate_ReturnsVerdict(t *testing.T) {
	e := newTestEcho(nil, nil)
	rec, env := do(e, http.MethodPost, "/api/verdict/evaluate", validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var v models.Verdict
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, "BTC", v.Symbol)
	assert.Equal(t, "7D", v.Horizon)
	assert.Equal(t, models.ActionBuy, v.Action)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), v.Timestamp.UTC())
	assert.LessOrEqual(t, v.PositionSizePct, 0.2)
	assert.NotEmpty(t, v.VerdictID)
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	e := newTestEcho(nil, nil)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing symbol", `{"snapshot":{"ts":"2024-03-01T12:00:00Z"},"outputs":[]}`, "snapshot.symbol"},
		{"confidence out of range", `{"snapshot":{"symbol":"BTC","ts":"2024-03-01T12:00:00Z"},"outputs":[{"horizon":"7D","modelId":"m","confidenceRaw":1.5}]}`, "outputs[0].confidenceRaw"},
		{"malformed json", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(e, http.MethodPost, "/api/verdict/evaluate", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.field == "" {
				return
			}
			var errs []struct {
				Field string `json:"field"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &errs))
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestEvaluate_RateLimited(t *testing.T) {
	e := newTestEcho(denyAll{}, nil)
	rec, _ := do(e, http.MethodPost, "/api/verdict/evaluate", validBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRules(t *testing.T) {
	e := newTestEcho(nil, nil)
	rec, env := do(e, http.MethodGet, "/api/verdict/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []config.RuleConfig
	require.NoError(t, json.Unmarshal(env.Data, &rules))
	require.Len(t, rules, 4)
	assert.Equal(t, "crisis_regime", rules[0].ID)
}

func TestEnqueue(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		q := &fakeQueue{}
		rec, _ := do(newTestEcho(nil, q), http.MethodPost, "/api/verdict/enqueue", validBody)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{usecase.JobTypeEvaluate}, q.types)
	})
	t.Run("queue failure", func(t *testing.T) {
		q := &fakeQueue{err: errors.New("redis down")}
		rec, _ := do(newTestEcho(nil, q), http.MethodPost, "/api/verdict/enqueue", validBody)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
	t.Run("queue disabled", func(t *testing.T) {
		rec, _ := do(newTestEcho(nil, nil), http.MethodPost, "/api/verdict/enqueue", validBody)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
