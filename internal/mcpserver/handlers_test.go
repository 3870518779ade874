package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/repscore/internal/gate"
)

const testAddr = "0x00000000000000000000000000000000000a11ce"

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL})
	client.policy.BaseDelay = 0
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_CallerHeader(t *testing.T) {
	var gotCaller string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get(gate.CallerHeader)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, CallerAddress: testAddr})
	_, err := client.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAddr, gotCaller)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "user_not_found",
			"message": "reputation: user not found",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetProfile(context.Background(), testAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "user not found")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream timeout"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"totalUsers": 1, "totalActivities": 2})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	client.policy.BaseDelay = 0
	_, err := client.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	client.policy.BaseDelay = 0
	_, err := client.GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	client.policy.BaseDelay = 0
	_, err := client.GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_RiskQuery(t *testing.T) {
	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetRisk(context.Background(), testAddr, 0)
	require.NoError(t, err)
	assert.Equal(t, "/v1/users/"+testAddr+"/risk", gotPath)
	assert.Empty(t, gotQuery)

	_, err = client.GetRisk(context.Background(), testAddr, 1300)
	require.NoError(t, err)
	assert.Equal(t, "at=1300", gotQuery)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetReputation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/"+testAddr, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"profile": map[string]any{
				"user":              testAddr,
				"reputationScore":   510,
				"totalTransactions": 1,
				"successfulLoans":   1,
				"liquidations":      0,
				"lastActivity":      1100,
				"registrationBlock": 1000,
				"isActive":          true,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{"address": testAddr}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Score: 510 / 1000")
	assert.Contains(t, text, "Successful Loans: 1")
	assert.Contains(t, text, "Last Activity: 1100")
	assert.NotContains(t, text, "inactive")
}

func TestHandleGetReputation_Validation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "address is required")

	result, err = h.HandleGetReputation(context.Background(), makeRequest(map[string]any{"address": "0xnope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid address")
}

func TestHandleGetReputation_NotFound(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "user_not_found", "message": "user not found"})
	}))
	defer cleanup()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{"address": testAddr}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user not found")
}

func TestHandleGetRiskProfile(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("at"))
		writeJSON(w, http.StatusOK, map[string]any{
			"risk": map[string]any{
				"user":                testAddr,
				"reputationScore":     460,
				"baseTier":            3,
				"riskLevel":           6,
				"riskLabel":           "extreme",
				"creditworthiness":    4,
				"liquidationRatio":    50,
				"successRatio":        50,
				"accountAge":          300,
				"activityFrequency":   0,
				"maxRecommendedLoan":  10000,
				"totalTransactions":   2,
				"assessmentTimestamp": 500,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetRiskProfile(context.Background(), makeRequest(map[string]any{"address": testAddr, "at": float64(500)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Risk Level: 6 (extreme)")
	assert.Contains(t, text, "Creditworthiness: 4 / 10")
	assert.Contains(t, text, "Liquidation Ratio: 50%")
	assert.Contains(t, text, "Max Recommended Loan: 10000")
}

func TestHandleGetRiskProfile_NegativeAt(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleGetRiskProfile(context.Background(), makeRequest(map[string]any{"address": testAddr, "at": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetActivity_Single(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/"+testAddr+"/activities/7", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"activity": map[string]any{
				"id": 7, "user": testAddr, "activityType": 1,
				"amount": 0, "timestamp": 1200, "scoreImpact": -50,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetActivity(context.Background(), makeRequest(map[string]any{"address": testAddr, "activity_id": float64(7)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "#7 liquidated at 1200, impact -50")
}

func TestHandleGetActivity_List(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/"+testAddr+"/activities", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"user": testAddr,
			"activities": []map[string]any{
				{"id": 1, "user": testAddr, "activityType": 2, "amount": 2000000, "timestamp": 1200, "scoreImpact": 5},
				{"id": 0, "user": testAddr, "activityType": 0, "amount": 0, "timestamp": 1100, "scoreImpact": 10},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetActivity(context.Background(), makeRequest(map[string]any{"address": testAddr, "limit": float64(5)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2")
	assert.Contains(t, text, "#1 large_transaction at 1200, impact +5, amount 2000000")
	assert.Contains(t, text, "#0 loan_repaid at 1100, impact +10")
}

func TestHandleGetActivity_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": testAddr, "activities": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleGetActivity(context.Background(), makeRequest(map[string]any{"address": testAddr}))
	require.NoError(t, err)
	assert.Equal(t, "No activities recorded.", resultText(t, result))
}

func TestHandleGetStats(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"totalUsers": 3, "totalActivities": 12})
	}))
	defer cleanup()

	result, err := h.HandleGetStats(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Registered users: 3")
	assert.Contains(t, text, "Recorded activities: 12")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, "test")
	require.NotNil(t, s)
}
