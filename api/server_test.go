package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/marketing"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()

	orch := marketing.NewOrchestrator()
	s := New(orch, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// =============================================================================
// 🎯 路由测试
// =============================================================================

func TestServer_ListFlows(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, ts.URL+"/v1/flows", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var list FlowListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))

	assert.Equal(t, []string{
		marketing.FlowContentAnalytics,
		marketing.FlowContentCreation,
		marketing.FlowContentDistribution,
		marketing.FlowEndToEnd,
		marketing.FlowGTMStrategy,
	}, list.Flows)
	assert.Len(t, list.Tools, 5)
}

func TestServer_SyncRun(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost,
		ts.URL+"/v1/flows/"+marketing.FlowContentAnalytics+"/runs",
		`{"inputs":{"content_id":"c-1"}}`, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	var rec RunRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))

	_, err := uuid.Parse(rec.RunID)
	assert.NoError(t, err)
	assert.Equal(t, marketing.FlowContentAnalytics, rec.Flow)
	assert.Equal(t, RunSucceeded, rec.Status)
	assert.Equal(t, "default", rec.Action)
	assert.NotEmpty(t, rec.Duration)
	assert.Equal(t, true, rec.Store["analytics_completed"])
	assert.Equal(t, rec.RunID, rec.Store["run_id"])
}

func TestServer_SyncRun_EmptyBody(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost,
		ts.URL+"/v1/flows/"+marketing.FlowContentCreation+"/runs", "", nil)
	require.Equal(t, http.StatusOK, status)

	var rec RunRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, RunSucceeded, rec.Status)
	assert.Equal(t, true, rec.Store["optimization_completed"])
}

func TestServer_UnknownFlow(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/v1/flows/nope/runs", `{}`, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Contains(t, env.Error.Message, "nope")
}

func TestServer_InvalidBody(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("malformed JSON", func(t *testing.T) {
		status, env := doJSON(t, http.MethodPost,
			ts.URL+"/v1/flows/"+marketing.FlowContentCreation+"/runs", `{"inputs":}`, nil)
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		status, env := doJSON(t, http.MethodPost,
			ts.URL+"/v1/flows/"+marketing.FlowContentCreation+"/runs", `{"bogus":1}`, nil)
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost,
			ts.URL+"/v1/flows/"+marketing.FlowContentCreation+"/runs",
			strings.NewReader(`{"inputs":{}}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "text/plain")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_AsyncRun(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost,
		ts.URL+"/v1/flows/"+marketing.FlowContentAnalytics+"/runs?async=true",
		`{"inputs":{"content_id":"c-9"}}`, nil)
	require.Equal(t, http.StatusAccepted, status)
	require.True(t, env.Success)

	var sub RunSubmission
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, RunPending, sub.Status)
	assert.Equal(t, marketing.FlowContentAnalytics, sub.Flow)
	_, err := uuid.Parse(sub.RunID)
	require.NoError(t, err)

	// 轮询直到完成
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, env := doJSON(t, http.MethodGet, ts.URL+"/v1/runs/"+sub.RunID, "", nil)
		require.Equal(t, http.StatusOK, status)

		var rec RunRecord
		require.NoError(t, json.Unmarshal(env.Data, &rec))
		require.NotEqual(t, RunFailed, rec.Status, "run failed: %s", rec.Error)

		if rec.Status == RunSucceeded {
			assert.Equal(t, sub.RunID, rec.Store["run_id"])
			assert.Equal(t, true, rec.Store["analytics_completed"])
			require.NotNil(t, rec.FinishedAt)
			break
		}
		require.True(t, time.Now().Before(deadline), "run did not finish in time")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_GetRun_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, ts.URL+"/v1/runs/nope", "", nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestServer_ListRuns(t *testing.T) {
	_, ts := newTestServer(t)

	for _, id := range []string{"c-1", "c-2"} {
		status, _ := doJSON(t, http.MethodPost,
			ts.URL+"/v1/flows/"+marketing.FlowContentAnalytics+"/runs",
			`{"inputs":{"content_id":"`+id+`"}}`, nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, env := doJSON(t, http.MethodGet, ts.URL+"/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, status)

	var list RunListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Runs, 2)

	// 最新在前
	assert.Equal(t, RunSucceeded, list.Runs[0].Status)
	assert.True(t, !list.Runs[0].SubmittedAt.Before(list.Runs[1].SubmittedAt))
}

// =============================================================================
// 🏥 健康与版本测试
// =============================================================================

func TestServer_HealthEndpoints(t *testing.T) {
	srv, ts := newTestServer(t, WithVersion(VersionInfo{Version: "1.2.3"}))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	// 就绪检查：注册一个失败检查后变为 503
	resp2, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	srv.RegisterHealthCheck(NewPingCheck("database", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	resp3, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp3.StatusCode)

	var ready HealthStatus
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&ready))
	assert.Equal(t, "unhealthy", ready.Status)
	assert.Equal(t, "fail", ready.Checks["database"].Status)
}

func TestServer_Version(t *testing.T) {
	_, ts := newTestServer(t, WithVersion(VersionInfo{
		Version:   "1.2.3",
		GitCommit: "abc1234",
	}))

	status, env := doJSON(t, http.MethodGet, ts.URL+"/version", "", nil)
	require.Equal(t, http.StatusOK, status)

	var info VersionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc1234", info.GitCommit)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, WithCollector(newTestCollector(t)))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

// =============================================================================
// 🔐 认证集成测试
// =============================================================================

func TestServer_JWTProtection(t *testing.T) {
	_, ts := newTestServer(t, WithJWT(JWTConfig{Secret: "s3cret", Issuer: "marketflow"}))

	t.Run("protected route without token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/flows")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("health exempt", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		token := signHS256(t, "s3cret", jwt.MapClaims{
			"iss":       "marketflow",
			"exp":       time.Now().Add(time.Hour).Unix(),
			"tenant_id": "acme",
		})

		status, env := doJSON(t, http.MethodGet, ts.URL+"/v1/flows", "",
			map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
	})
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, WithRateLimit(1, 1))

	resp1, err := http.Get(ts.URL + "/v1/flows")
	require.NoError(t, err)
	resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := http.Get(ts.URL + "/v1/flows")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
}

// =============================================================================
// 🔌 事件流集成测试
// =============================================================================

func TestServer_EventFeedEndToEnd(t *testing.T) {
	hub := NewEventHub(256, zap.NewNop())
	orch := marketing.NewOrchestrator(marketing.WithObserverFactory(hub.Observer))
	s := New(orch, WithEventHub(hub))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	require.Equal(t, EventConnected, hello.Type)

	status, env := doJSON(t, http.MethodPost,
		ts.URL+"/v1/flows/"+marketing.FlowContentCreation+"/runs",
		`{"inputs":{"topic":"event feed"}}`, nil)
	require.Equal(t, http.StatusOK, status)

	var rec RunRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))

	seen := map[string]int{}
	var nodes []string
	for {
		var ev Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		require.Equal(t, rec.RunID, ev.RunID)
		seen[ev.Type]++
		if ev.Type == EventNodeStarted {
			nodes = append(nodes, ev.Node)
		}
		if ev.Type == EventRunFinished {
			break
		}
	}

	assert.Equal(t, 1, seen[EventRunSubmitted])
	assert.Equal(t, 1, seen[EventFlowStarted])
	assert.Equal(t, 1, seen[EventFlowFinished])
	assert.Equal(t, 3, seen[EventNodeStarted])
	assert.Equal(t, 3, seen[EventNodeFinished])
	assert.Equal(t, []string{"research", "content_generation", "content_optimization"}, nodes)
}
