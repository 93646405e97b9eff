package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/health"
	"github.com/energizer-project/quarry/internal/metrics"
	"github.com/energizer-project/quarry/internal/network"
	"github.com/energizer-project/quarry/internal/server"
)

const (
	adminToken   = "admin-secret"
	monitorToken = "monitor-secret"
)

type banCall struct {
	kind     db.BanKind
	target   string
	reason   string
	duration time.Duration
}

type fakeOperator struct {
	mu        sync.Mutex
	kicks     map[uint64]string
	bans      []banCall
	motd      string
	broadcast string
	limit     int
}

func newFakeOperator() *fakeOperator {
	return &fakeOperator{kicks: make(map[uint64]string)}
}

func (f *fakeOperator) Overview() server.Overview {
	return server.Overview{MOTD: "A Quarry Server", MaxPlayers: 20, PlayersOnline: 1}
}

func (f *fakeOperator) Connections() []network.ConnectionInfo {
	return []network.ConnectionInfo{{ID: 1, Remote: "10.0.0.1:5000", State: "play", Player: "Steve"}}
}

func (f *fakeOperator) Players() []game.Member {
	return []game.Member{{Player: game.Player{Name: "Steve"}}}
}

func (f *fakeOperator) RecentPlayers(_ context.Context, limit int) ([]db.PlayerRecord, error) {
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
	return []db.PlayerRecord{{Name: "Steve", Joins: 3}}, nil
}

func (f *fakeOperator) Kick(id uint64, reason, _ string) error {
	if id != 1 {
		return network.ErrNoSuchConnection
	}
	f.mu.Lock()
	f.kicks[id] = reason
	f.mu.Unlock()
	return nil
}

func (f *fakeOperator) KickPlayer(name, reason, by string) (uint64, error) {
	if !strings.EqualFold(name, "Steve") {
		return 0, network.ErrNoSuchConnection
	}
	return 1, f.Kick(1, reason, by)
}

func (f *fakeOperator) Broadcast(msg string) int {
	f.mu.Lock()
	f.broadcast = msg
	f.mu.Unlock()
	return 1
}

func (f *fakeOperator) SetMOTD(motd string) error {
	f.mu.Lock()
	f.motd = motd
	f.mu.Unlock()
	return nil
}

func (f *fakeOperator) Bans(context.Context) ([]db.Ban, error) {
	return []db.Ban{{ID: 1, Kind: db.BanName, Target: "griefer"}}, nil
}

func (f *fakeOperator) Ban(_ context.Context, kind db.BanKind, target, reason, by string, duration time.Duration) (*db.Ban, []uint64, error) {
	f.mu.Lock()
	f.bans = append(f.bans, banCall{kind: kind, target: target, reason: reason, duration: duration})
	f.mu.Unlock()
	return &db.Ban{ID: 2, Kind: kind, Target: target, Reason: reason, Source: by}, []uint64{1}, nil
}

func (f *fakeOperator) Unban(_ context.Context, _ db.BanKind, target, _ string) error {
	if target != "griefer" {
		return db.ErrBanNotFound
	}
	return nil
}

type fakeHealth struct{ healthy bool }

func (h fakeHealth) Results() []health.Result {
	return []health.Result{{Check: health.CheckMemory, OK: h.healthy}}
}

func (h fakeHealth) Healthy() bool { return h.healthy }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeOperator) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.Token = adminToken
	cfg.API.MonitorToken = monitorToken
	cfg.API.RateLimitRPS = 0
	cfg.MQTT.Password = "broker-secret"
	if mutate != nil {
		mutate(cfg)
	}
	op := newFakeOperator()
	return NewServer(cfg, op, fakeHealth{healthy: true}, metrics.New()), op
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPublicRoutesNeedNoToken(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/public/ping", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Quarry", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "quarry", decode(t, w)["service"])

	w = do(t, s, http.MethodGet, "/api/public/get_server_status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A Quarry Server", decode(t, w)["motd"])
}

func TestHealthReportsUnavailable(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewServer(cfg, newFakeOperator(), fakeHealth{healthy: false}, nil)

	w := do(t, s, http.MethodGet, "/api/public/get_health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["healthy"])
}

func TestProtectedRoutesCheckTokens(t *testing.T) {
	s, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/monitor/get_players", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/monitor/get_players", "wrong", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/monitor/get_players", monitorToken, "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/monitor/get_players", adminToken, "").Code)

	w := do(t, s, http.MethodPost, "/api/control/broadcast", monitorToken, `{"message":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, PermControl, decode(t, w)["required"])
}

func TestNoTokenConfiguredRefusesEverything(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Token = ""
		cfg.API.MonitorToken = ""
	})
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/monitor/get_connections", "anything", "").Code)
}

func TestKickRoutes(t *testing.T) {
	s, op := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/control/kick/1", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultKickReason, op.kicks[1])

	w = do(t, s, http.MethodPost, "/api/control/kick_player/steve", adminToken, `{"reason":"AFK"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AFK", op.kicks[1])

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/control/kick/9", adminToken, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/control/kick_player/Alex", adminToken, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/control/kick/abc", adminToken, "").Code)
}

func TestBroadcastRequiresMessage(t *testing.T) {
	s, op := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/control/broadcast", adminToken, `{}`).Code)

	w := do(t, s, http.MethodPost, "/api/control/broadcast", adminToken, `{"message":"restart soon"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "restart soon", op.broadcast)
	assert.EqualValues(t, 1, decode(t, w)["delivered"])
}

func TestBanRoutes(t *testing.T) {
	s, op := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/configure/bans", adminToken,
		`{"kind":"name","target":"griefer","reason":"tnt","duration_minutes":30}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, op.bans, 1)
	assert.Equal(t, banCall{kind: db.BanName, target: "griefer", reason: "tnt", duration: 30 * time.Minute}, op.bans[0])
	assert.Equal(t, []interface{}{float64(1)}, decode(t, w)["kicked"])

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/configure/bans", adminToken,
		`{"kind":"uuid","target":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/configure/bans", monitorToken,
		`{"kind":"name","target":"x"}`).Code)

	w = do(t, s, http.MethodGet, "/api/monitor/get_bans", monitorToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/api/configure/bans/name/griefer", adminToken, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/configure/bans/name/nobody", adminToken, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/api/configure/bans/uuid/x", adminToken, "").Code)
}

func TestGetConfigMasksSecrets(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/configure/get_config", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), adminToken)
	assert.NotContains(t, w.Body.String(), monitorToken)
	assert.NotContains(t, w.Body.String(), "broker-secret")
	assert.Contains(t, w.Body.String(), redacted)
}

func TestSetMOTD(t *testing.T) {
	s, op := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/configure/set_motd", adminToken, `{"motd":"Welcome"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome", op.motd)
}

func TestPlayerHistoryLimit(t *testing.T) {
	s, op := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/monitor/get_player_history", monitorToken, "").Code)
	assert.Equal(t, defaultHistoryLimit, op.limit)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/monitor/get_player_history?limit=5000", monitorToken, "").Code)
	assert.Equal(t, maxHistoryLimit, op.limit)

	assert.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodGet, "/api/monitor/get_player_history?limit=-1", monitorToken, "").Code)
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) { cfg.API.RateLimitRPS = 1 })

	// Burst is twice the rate.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/public/ping", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/public/ping", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/api/public/ping", "", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	do(t, s, http.MethodGet, "/api/public/ping", "", "")
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/metrics", "", "").Code)

	w := do(t, s, http.MethodGet, "/metrics", monitorToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `quarry_http_requests_total{method="GET",path="/api/public/ping",status="200"} 1`)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "endpoint not found", decode(t, w)["error"])
}

func TestStartServesUntilCancelled(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Address = "127.0.0.1"
		cfg.API.Port = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("API server did not start")
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/api/public/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("API server did not stop")
	}
}
