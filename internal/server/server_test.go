package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/broadcast"
	"github.com/dgnsrekt/crowdpointer/internal/config"
	"github.com/dgnsrekt/crowdpointer/internal/presence"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
	"github.com/dgnsrekt/crowdpointer/internal/ws"
)

type testServer struct {
	http        *httptest.Server
	registry    *registry.Registry
	manager     *presence.Manager
	broker      *pubsub.Broker
	broadcaster *broadcast.Broadcaster
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			BaseURL:         "https://pointer.example.com",
			UpgradeRate:     1000,
			UpgradeBurst:    1000,
			ShutdownTimeout: time.Second,
		},
		Broadcast: config.BroadcastConfig{Interval: broadcast.DefaultInterval},
		PubSub:    config.PubSubConfig{BufferSize: pubsub.DefaultBufferSize},
		Logging:   config.LoggingConfig{Level: "info"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	logger := zap.NewNop()

	codec, err := protocol.NewCodec()
	require.NoError(t, err)

	reg := registry.New()
	broker := pubsub.NewBroker(cfg.PubSub.BufferSize, logger)
	manager := presence.NewManager(reg, broker, logger)
	broadcaster := broadcast.NewBroadcaster(reg, broker, clockwork.NewFakeClock(), cfg.Broadcast.Interval, logger)
	handler := ws.NewHandler(broker, manager, codec, logger)

	srv := httptest.NewServer(NewRouter(NewServer(manager, broker, broadcaster, handler, cfg, logger), logger))
	t.Cleanup(func() {
		broadcaster.Stop()
		broker.Close()
		srv.Close()
		codec.Close()
	})

	return &testServer{
		http:        srv,
		registry:    reg,
		manager:     manager,
		broker:      broker,
		broadcaster: broadcaster,
	}
}

func (s *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + path
}

func TestHealthReportsState(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.broadcaster.Start(context.Background())
	s.manager.Connect(context.Background(), "a")
	s.manager.Connect(context.Background(), "b")

	resp, err := http.Get(s.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Connections)
	assert.True(t, body.Broadcaster)
	assert.Contains(t, body.Subscribers, string(pubsub.TopicDisplay))
	assert.Contains(t, body.Subscribers, string(pubsub.TopicCount))
}

func TestHealthDegradedWhenBroadcasterStopped(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, err := http.Get(s.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.False(t, body.Broadcaster)
}

func TestInteractURL(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, err := http.Get(s.http.URL + "/api/interact-url")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "https://pointer.example.com/interact", body["interact_url"])
}

func TestResetRecentersPositions(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.manager.Connect(context.Background(), "a")
	s.manager.Connect(context.Background(), "b")
	s.manager.UpdatePosition("a", 0.5, 0.5)

	resp, err := http.Post(s.http.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body["reset"])
	assert.Equal(t, 2, s.registry.Count())
	assert.ElementsMatch(t, []registry.Position{{}, {}}, s.registry.Snapshot())
}

func TestResetRejectsGet(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, err := http.Get(s.http.URL + "/api/reset")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, err := http.Get(s.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, path := range []string{"/ws/interact", "/ws/show", "/ws/session"} {
		t.Run(path, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(path), nil)
			require.NoError(t, err)
			defer conn.Close()
			assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
		})
	}
}

func TestUpgradeLimiterRejectsBurst(t *testing.T) {
	cfg := testConfig()
	cfg.Server.UpgradeRate = 0.001
	cfg.Server.UpgradeBurst = 1
	s := newTestServer(t, cfg)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("/ws/show"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL("/ws/show"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// plain HTTP routes are not throttled
	health, err := http.Get(s.http.URL + "/api/interact-url")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodOptions, s.http.URL+"/api/reset", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
