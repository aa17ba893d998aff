package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinVerdict/internal/domain/models"
	domsvc "FinVerdict/internal/domain/service"
)

func shadowServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, shadowHealthPath, r.URL.Path)
		var q domsvc.HealthQuery
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "7D", q.Horizon)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPShadowMonitor(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    models.HealthResult
		wantErr bool
	}{
		{
			name: "critical with diagnostics",
			body: `{"modifier":0.25,"state":"CRITICAL","ece":0.12,"criticalStreak":4,"notes":"drift"}`,
			want: models.HealthResult{Modifier: 0.25, State: models.HealthCritical, ECE: ptrF(0.12), CriticalStreak: ptrI(4), Notes: "drift"},
		},
		{
			name: "empty body is neutral",
			body: `{}`,
			want: models.NeutralHealth(),
		},
		{
			name:    "unknown state",
			body:    `{"modifier":0.5,"state":"ZOMBIE"}`,
			want:    models.NeutralHealth(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := shadowServer(t, tt.body)
			mon := NewHTTPShadowMonitor(NewHTTPServiceBase(srv.URL, time.Second, 1))

			got, err := mon.GetHealthModifier(context.Background(), domsvc.HealthQuery{Horizon: "7D", ModelID: "m1"})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeutralPorts(t *testing.T) {
	ctx := context.Background()

	in := sampleMetaBrainInput()
	out, err := NeutralMetaBrain{}.Adjust(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.Action, out.Action)
	assert.Equal(t, in.Confidence, out.Confidence)

	mod, err := NeutralCalibration{}.GetConfidenceModifier(ctx, domsvc.CalibrationQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, mod.Modifier)

	h, err := NeutralHealth{}.GetHealthModifier(ctx, domsvc.HealthQuery{})
	require.NoError(t, err)
	assert.Equal(t, models.NeutralHealth(), h)
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
