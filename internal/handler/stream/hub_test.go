package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinVerdict/internal/domain/models"
	"FinVerdict/pkg/logger"
)

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(logger.Nop(), nil)
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/verdicts"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	hub, url := newHubServer(t)
	all := dial(t, url)
	eth := dial(t, url+"?symbol=eth")
	waitSubscribers(t, hub, 2)

	hub.Broadcast(&models.Verdict{VerdictID: "v1", Symbol: "BTC", Action: models.ActionBuy})
	hub.Broadcast(&models.Verdict{VerdictID: "v2", Symbol: "ETH", Action: models.ActionHold})

	var got models.Verdict
	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "v1", got.VerdictID)
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "v2", got.VerdictID)

	_ = eth.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, eth.ReadJSON(&got))
	assert.Equal(t, "v2", got.VerdictID, "symbol filter skips BTC")
}

func TestHub_DisconnectRemovesSubscriber(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)
	waitSubscribers(t, hub, 1)

	require.NoError(t, conn.Close())
	waitSubscribers(t, hub, 0)

	hub.Broadcast(&models.Verdict{VerdictID: "v3", Symbol: "BTC"})
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest("GET", "/ws/verdicts", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}
