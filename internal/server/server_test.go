package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/repscore/internal/chainclock"
	"github.com/mbd888/repscore/internal/config"
	"github.com/mbd888/repscore/internal/gate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	aliceHex    = "0x00000000000000000000000000000000000a11ce"
	operatorHex = "0x00000000000000000000000000000000000000f0"
	adminSecret = "s3cret"
)

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		LogFormat:     "text",
		ClockMode:     config.ClockManual,
		BlockInterval: time.Minute,
		Operators:     []common.Address{common.HexToAddress(operatorHex)},
		AdminSecret:   adminSecret,
		CORSOrigins:   []string{"*"},
	}
}

type testServer struct {
	*Server
	clock *chainclock.Manual
}

// newTestServer creates a server on in-memory dependencies and a manual
// clock starting at 1000.
func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	clock := chainclock.NewManual(1000)
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock),
		WithPauseFlag(gate.NewMemoryFlag()),
	}, opts...)
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	s.drainDelay = 0
	return &testServer{Server: s, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path, caller, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set(gate.CallerHeader, caller)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])

	checks := resp["checks"].([]any)
	require.Len(t, checks, 1)
	clock := checks[0].(map[string]any)
	assert.Equal(t, "clock", clock["name"])
	assert.Equal(t, "now=1000", clock["detail"])
}

type brokenClock struct{}

func (brokenClock) Now(context.Context) (uint64, error) { return 0, errors.New("rpc unreachable") }

func TestHealthEndpoint_Degraded(t *testing.T) {
	s := newTestServer(t, WithClock(brokenClock{}))

	w, resp := s.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", resp["status"])
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, "GET", "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w, _ := s.do(t, "GET", "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"GET:/v1/info",
		"GET:/v1/stats",
		"POST:/v1/users/:address/register",
		"POST:/v1/users/:address/activities",
		"GET:/v1/users/:address",
		"GET:/v1/users/:address/activities",
		"GET:/v1/users/:address/activities/:id",
		"GET:/v1/users/:address/risk",
		"GET:/v1/users/:address/history",
		"POST:/v1/admin/pause",
		"POST:/v1/admin/unpause",
		"GET:/v1/admin/status",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}
	for _, e := range expected {
		assert.True(t, routeSet[e], "route %s not registered", e)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, "GET", "/v1/nonexistent", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, "GET", "/health/live", "", "", "X-Request-ID", "req-abc")
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))

	w, _ = s.do(t, "GET", "/health/live", "", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, "GET", "/v1/info", "", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t, WithVersion("1.2.3"))

	w, resp := s.do(t, "GET", "/v1/info", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", resp["version"])
	assert.Equal(t, config.ClockManual, resp["clock"])
	score := resp["score"].(map[string]any)
	assert.Equal(t, float64(500), score["initial"])
}

// ---------------------------------------------------------------------------
// End-to-end flow
// ---------------------------------------------------------------------------

func TestReputationFlow(t *testing.T) {
	s := newTestServer(t)
	userPath := "/v1/users/" + aliceHex

	// Only alice herself or an operator may register alice.
	w, resp := s.do(t, "POST", userPath+"/register", "0x0000000000000000000000000000000000000b0b", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_authorized", resp["error"])

	w, resp = s.do(t, "POST", userPath+"/register", aliceHex, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	profile := resp["profile"].(map[string]any)
	assert.Equal(t, float64(500), profile["reputationScore"])
	assert.Equal(t, float64(1000), profile["registrationBlock"])

	w, resp = s.do(t, "POST", userPath+"/register", aliceHex, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_registered", resp["error"])

	// Recording activity is reserved for operators.
	w, _ = s.do(t, "POST", userPath+"/activities", aliceHex, `{"activityType":"loan_repaid"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.clock.Advance(100)
	w, resp = s.do(t, "POST", userPath+"/activities", operatorHex, `{"activityType":"loan_repaid","amount":1000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(510), resp["newScore"])
	assert.Equal(t, float64(0), resp["activityId"])

	w, resp = s.do(t, "POST", userPath+"/activities", operatorHex, `{"activityType":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(460), resp["newScore"])
	assert.Equal(t, float64(1), resp["activityId"])

	w, resp = s.do(t, "GET", userPath+"/activities/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(-50), resp["activity"].(map[string]any)["scoreImpact"])

	s.clock.Advance(200)
	w, resp = s.do(t, "GET", userPath+"/risk", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := resp["risk"].(map[string]any)
	assert.Equal(t, float64(6), report["riskLevel"])
	assert.Equal(t, float64(4), report["creditworthiness"])
	assert.Equal(t, float64(10000), report["maxRecommendedLoan"])
	assert.Equal(t, float64(1300), report["assessmentTimestamp"])

	w, resp = s.do(t, "GET", userPath+"/history", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])

	w, resp = s.do(t, "GET", "/v1/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["totalUsers"])
	assert.Equal(t, float64(2), resp["totalActivities"])
}

func TestInvalidCallerHeader(t *testing.T) {
	s := newTestServer(t)
	w, resp := s.do(t, "POST", "/v1/users/"+aliceHex+"/register", "not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_caller", resp["error"])
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdminPauseBlocksOperations(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, "POST", "/v1/admin/pause", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "secret required")

	w, resp := s.do(t, "POST", "/v1/admin/pause", "", "", gate.AdminSecretHeader, adminSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["paused"])

	w, resp = s.do(t, "POST", "/v1/users/"+aliceHex+"/register", aliceHex, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "system_paused", resp["error"])

	w, resp = s.do(t, "GET", "/v1/admin/status", "", "", gate.AdminSecretHeader, adminSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["paused"])
	assert.Equal(t, []any{common.HexToAddress(operatorHex).Hex()}, resp["operators"])

	w, _ = s.do(t, "POST", "/v1/admin/unpause", "", "", gate.AdminSecretHeader, adminSecret)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, "POST", "/v1/users/"+aliceHex+"/register", aliceHex, "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = ""
	s, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(chainclock.NewManual(0)),
	)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/admin/pause", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.ready.Load() }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.ready.Load())
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@db:5432/repscore", maskDSN("postgres://app:hunter2@db:5432/repscore"))
	assert.NotContains(t, maskDSN("postgres://app:p%40ss@db/repscore?sslmode=disable"), "p%40ss")
	assert.Equal(t, "postgres://db:5432/repscore", maskDSN("postgres://db:5432/repscore"))
	assert.Equal(t, "***", maskDSN("://bad"))
}
