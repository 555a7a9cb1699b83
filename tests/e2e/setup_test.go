// E2E 测试环境与通用辅助函数。
//
// 按生产装配方式组建完整栈：sqlite 持久层、分析存储、
// 事件中心、编排器与带认证的 HTTP API。
//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/api"
	"github.com/BaSui01/marketflow/config"
	"github.com/BaSui01/marketflow/internal/analytics"
	"github.com/BaSui01/marketflow/internal/database"
	"github.com/BaSui01/marketflow/internal/repository"
	"github.com/BaSui01/marketflow/marketing"
	"github.com/BaSui01/marketflow/testutil"
	"github.com/BaSui01/marketflow/testutil/mocks"
)

// jwtSecret 测试环境统一使用的 HS256 密钥
const jwtSecret = "e2e-test-secret"

// --- 测试环境 ---

// TestEnv 端到端测试环境，组件接线与 serve 子命令一致
type TestEnv struct {
	Server   *httptest.Server
	API      *api.Server
	Hub      *api.EventHub
	Orch     *marketing.Orchestrator
	Repo     *repository.ContentRepository
	Sink     *analytics.SQLiteStore
	Provider *mocks.MockProvider
	Logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// EnvOption 调整测试环境装配
type EnvOption func(*envSettings)

type envSettings struct {
	auth     bool
	channels []string
}

// WithAuth 启用 JWT 认证
func WithAuth() EnvOption {
	return func(s *envSettings) { s.auth = true }
}

// WithChannels 覆盖默认分发渠道
func WithChannels(channels ...string) EnvOption {
	return func(s *envSettings) { s.channels = channels }
}

// NewTestEnv 创建新的测试环境
func NewTestEnv(t *testing.T, opts ...EnvOption) *TestEnv {
	t.Helper()

	settings := &envSettings{}
	for _, opt := range opts {
		opt(settings)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	logger := zap.NewNop()

	// sqlite 内容仓库
	dir := t.TempDir()
	pool, err := database.OpenPool(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(dir, "content.db"),
	}, logger)
	require.NoError(t, err)

	repo, err := repository.NewContentRepository(pool, logger)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(ctx))

	// sqlite 分析存储
	sink, err := analytics.OpenSQLiteStore(filepath.Join(dir, "analytics.db"), logger)
	require.NoError(t, err)

	// 编排器 + 事件中心
	hub := api.NewEventHub(256, logger)
	provider := mocks.NewMockProvider()

	orchOpts := []marketing.Option{
		marketing.WithLogger(logger),
		marketing.WithProvider(provider),
		marketing.WithRepository(repo),
		marketing.WithAnalyticsSink(sink),
		marketing.WithObserverFactory(hub.Observer),
	}
	if len(settings.channels) > 0 {
		orchOpts = append(orchOpts, marketing.WithChannels(settings.channels))
	}
	orch := marketing.NewOrchestrator(orchOpts...)

	// HTTP API
	apiOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithEventHub(hub),
		api.WithRunTimeout(time.Minute),
	}
	if settings.auth {
		apiOpts = append(apiOpts, api.WithJWT(api.JWTConfig{
			Secret: jwtSecret,
			Issuer: "marketflow",
		}))
	}
	apiServer := api.New(orch, apiOpts...)
	server := httptest.NewServer(apiServer.Handler())

	env := &TestEnv{
		Server:   server,
		API:      apiServer,
		Hub:      hub,
		Orch:     orch,
		Repo:     repo,
		Sink:     sink,
		Provider: provider,
		Logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	t.Cleanup(func() {
		server.Close()
		apiServer.Close()
		sink.Close(context.Background())
		pool.Close()
		cancel()
	})
	return env
}

// Context 返回测试上下文
func (e *TestEnv) Context() context.Context {
	return e.ctx
}

// URL 拼接服务器地址与路径
func (e *TestEnv) URL(path string) string {
	return e.Server.URL + path
}

// Token 签发带租户声明的 HS256 令牌
func (e *TestEnv) Token(t *testing.T, tenantID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":       "marketflow",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"tenant_id": tenantID,
		"user_id":   "e2e-user",
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

// --- HTTP 辅助 ---

// Envelope 统一响应信封
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *api.ErrorInfo  `json:"error"`
	RequestID string          `json:"request_id"`
}

// DoJSON 发送请求并解码响应信封
func (e *TestEnv) DoJSON(t *testing.T, method, path, body, token string) (int, Envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.URL(path), reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// SubmitRun 同步提交一次运行并解码运行记录
func (e *TestEnv) SubmitRun(t *testing.T, flowName, body, token string) api.RunRecord {
	t.Helper()

	status, env := e.DoJSON(t, http.MethodPost, "/v1/flows/"+flowName+"/runs", body, token)
	require.Equal(t, http.StatusOK, status, "run submission failed: %+v", env.Error)
	require.True(t, env.Success)

	var rec api.RunRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	return rec
}

// PollRun 轮询运行状态直到结束
func (e *TestEnv) PollRun(t *testing.T, runID, token string, timeout time.Duration) api.RunRecord {
	t.Helper()

	var rec api.RunRecord
	ok := testutil.WaitFor(func() bool {
		status, env := e.DoJSON(t, http.MethodGet, "/v1/runs/"+runID, "", token)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(env.Data, &rec))
		return rec.Status == api.RunSucceeded || rec.Status == api.RunFailed
	}, timeout)
	require.True(t, ok, "run %s did not finish within %v", runID, timeout)
	return rec
}

// --- 环境检查 ---

// SkipIfShort 如果是短测试模式则跳过
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping long-running test in short mode")
	}
}
