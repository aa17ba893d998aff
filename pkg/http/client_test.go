package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "finverdict", r.Header.Get("User-Agent"))

		var in map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]float64{"modifier": in["confidence"] / 2})
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second), WithHeader("User-Agent", "finverdict"))
	var out map[string]float64
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]float64{"confidence": 0.8}, &out))
	assert.InDelta(t, 0.4, out["modifier"], 1e-9)
}

func TestClient_DoJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("warming up"))
	}))
	defer srv.Close()

	err := NewClient().DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "warming up", se.Body)
	assert.True(t, se.Temporary())
	assert.False(t, (&StatusError{Code: http.StatusBadRequest}).Temporary())
}

func TestClient_DoJSON_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := NewClient().DoJSON(context.Background(), http.MethodGet, srv.URL, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode json")
}
