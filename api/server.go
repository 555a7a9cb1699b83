package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/internal/metrics"
	"github.com/BaSui01/marketflow/internal/pool"
	"github.com/BaSui01/marketflow/marketing"
	"github.com/BaSui01/marketflow/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是工作流 HTTP API 的核心：路由、中间件链、异步运行池与事件流。
type Server struct {
	orch      *marketing.Orchestrator
	logger    *zap.Logger
	collector *metrics.Collector
	hub       *EventHub
	pool      *pool.WorkerPool
	runs      *runStore
	health    *HealthHandler
	version   VersionInfo

	jwt         *JWTConfig
	corsOrigins []string
	rateRPS     float64
	rateBurst   int
	runTimeout  time.Duration
	tracing     bool
	historyMax  int
	poolCfg     pool.Config

	handler     http.Handler
	handlerOnce sync.Once

	limiterCancel context.CancelFunc
	closeOnce     sync.Once
}

// ServerOption 配置 Server。
type ServerOption func(*Server)

// WithLogger 设置结构化日志器（默认 no-op）。
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCollector 挂载 Prometheus 指标收集器，启用 HTTP 请求指标。
func WithCollector(collector *metrics.Collector) ServerOption {
	return func(s *Server) { s.collector = collector }
}

// WithEventHub 使用外部事件中心。与 marketing.WithObserverFactory(hub.Observer)
// 搭配时，事件流携带节点级别的生命周期事件。
func WithEventHub(hub *EventHub) ServerOption {
	return func(s *Server) {
		if hub != nil {
			s.hub = hub
		}
	}
}

// WithJWT 启用 JWT Bearer 认证。
func WithJWT(cfg JWTConfig) ServerOption {
	return func(s *Server) { s.jwt = &cfg }
}

// WithCORS 配置允许的跨域来源。
func WithCORS(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimit 配置限流参数。
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithRunTimeout 限制单次工作流运行的执行时长（默认 5 分钟）。
func WithRunTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithWorkers 配置异步运行的工作池。
func WithWorkers(cfg pool.Config) ServerOption {
	return func(s *Server) { s.poolCfg = cfg }
}

// WithRunHistory 限制保留的运行记录数量（默认 256）。
func WithRunHistory(max int) ServerOption {
	return func(s *Server) {
		if max > 0 {
			s.historyMax = max
		}
	}
}

// WithVersion 设置 /version 返回的构建信息。
func WithVersion(info VersionInfo) ServerOption {
	return func(s *Server) { s.version = info }
}

// WithTracing 启用 HTTP 层 OpenTelemetry 追踪。
func WithTracing(enabled bool) ServerOption {
	return func(s *Server) { s.tracing = enabled }
}

// New 创建 API 服务器。
func New(orch *marketing.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		orch:       orch,
		logger:     zap.NewNop(),
		runTimeout: 5 * time.Minute,
		rateRPS:    100,
		rateBurst:  200,
		historyMax: defaultRunHistory,
		poolCfg:    pool.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hub == nil {
		s.hub = NewEventHub(64, s.logger)
	}
	s.runs = newRunStore(s.historyMax)
	if s.poolCfg.Logger == nil {
		s.poolCfg.Logger = s.logger
	}
	s.pool = pool.New(s.poolCfg)
	s.health = NewHealthHandler(s.version, s.logger)
	return s
}

// Hub 返回事件中心，用于编排器的观察者接线。
func (s *Server) Hub() *EventHub { return s.hub }

// RegisterHealthCheck 注册就绪检查（数据库、Redis 等）。
func (s *Server) RegisterHealthCheck(check HealthCheck) {
	s.health.RegisterCheck(check)
}

// PoolStats 返回异步运行池的统计信息。
func (s *Server) PoolStats() pool.Stats { return s.pool.Stats() }

// =============================================================================
// 🚀 构建 HTTP Handler
// =============================================================================

// Handler 返回完整的 HTTP 处理器（路由 + 中间件链）。首次调用时构建。
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() { s.handler = s.buildHandler() })
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	// ========================================
	// 工作流 API 路由
	// ========================================
	mux.HandleFunc("GET /v1/flows", s.handleListFlows)
	mux.HandleFunc("POST /v1/flows/{name}/runs", s.handleSubmitRun)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.Handle("GET /v1/events", ServeEvents(s.hub, s.logger))

	// ========================================
	// 构建中间件链
	// ========================================
	limiterCtx, limiterCancel := context.WithCancel(context.Background())
	s.limiterCancel = limiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.collector))
	}
	if s.tracing {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, CORS(s.corsOrigins))
	if s.jwt != nil {
		skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
		middlewares = append(middlewares, JWTAuth(*s.jwt, skipAuthPaths, s.logger))
	}
	// 限流在认证之后，租户键才可见
	middlewares = append(middlewares, RateLimiter(limiterCtx, s.rateRPS, s.rateBurst, s.logger))

	return Chain(mux, middlewares...)
}

// =============================================================================
// 🎯 工作流处理程序
// =============================================================================

// handleListFlows 处理 GET /v1/flows
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, FlowListResponse{
		Flows: s.orch.Flows(),
		Tools: s.orch.Tools(),
	})
}

// handleSubmitRun 处理 POST /v1/flows/{name}/runs
// 默认同步执行并返回完整运行记录；?async=true 时提交到工作池并返回 202。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.orch.Flow(name); !ok {
		WriteError(w, r, types.NewNotFoundError("unknown flow: "+name), s.logger)
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if !ValidateContentType(w, r, s.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &req, s.logger); err != nil {
			return
		}
	}

	runID := uuid.NewString()
	s.runs.add(&RunRecord{
		RunID:       runID,
		Flow:        name,
		Status:      RunPending,
		SubmittedAt: time.Now(),
	})
	s.hub.Publish(Event{Type: EventRunSubmitted, RunID: runID, Flow: name})

	if isAsync(r) {
		s.submitAsync(w, r, runID, name, req.Inputs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()
	ctx = types.WithRunID(ctx, runID)

	s.runs.setRunning(runID)
	started := time.Now()
	res, err := s.orch.Run(ctx, name, req.Inputs)
	if err != nil {
		s.failRun(runID, name, time.Since(started), err)
		code := types.ErrRunFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrTimeout
		}
		WriteError(w, r, types.NewError(code, err.Error()).WithCause(err), s.logger)
		return
	}

	s.finishRun(runID, name, res)
	rec, _ := s.runs.get(runID)
	WriteSuccess(w, r, rec)
}

// submitAsync 将运行提交到工作池。请求上下文在响应后即失效，
// 任务使用分离的上下文并继承身份信息。
func (s *Server) submitAsync(w http.ResponseWriter, r *http.Request, runID, name string, inputs map[string]any) {
	runCtx := types.WithRunID(context.Background(), runID)
	if tenantID, ok := types.TenantID(r.Context()); ok {
		runCtx = types.WithTenantID(runCtx, tenantID)
	}
	if userID, ok := types.UserID(r.Context()); ok {
		runCtx = types.WithUserID(runCtx, userID)
	}
	if traceID, ok := types.TraceID(r.Context()); ok {
		runCtx = types.WithTraceID(runCtx, traceID)
	}

	err := s.pool.Submit(runCtx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()

		s.runs.setRunning(runID)
		started := time.Now()
		res, err := s.orch.Run(ctx, name, inputs)
		if err != nil {
			s.failRun(runID, name, time.Since(started), err)
			return err
		}
		s.finishRun(runID, name, res)
		return nil
	})
	if err != nil {
		s.failRun(runID, name, 0, err)
		switch {
		case errors.Is(err, pool.ErrPoolFull):
			WriteError(w, r, types.NewError(types.ErrQueueFull, "run queue is full").WithRetryable(true), s.logger)
		case errors.Is(err, pool.ErrPoolClosed):
			WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "server is shutting down"), s.logger)
		default:
			WriteError(w, r, types.NewError(types.ErrInternalError, "failed to submit run").WithCause(err), s.logger)
		}
		return
	}

	WriteAccepted(w, r, RunSubmission{RunID: runID, Flow: name, Status: RunPending})
}

func (s *Server) finishRun(runID, name string, res *marketing.RunResult) {
	s.runs.finish(runID, string(res.Action), res.Store, res.Duration, nil)
	s.hub.Publish(Event{
		Type:     EventRunFinished,
		RunID:    runID,
		Flow:     name,
		Action:   string(res.Action),
		Duration: res.Duration.String(),
	})
}

func (s *Server) failRun(runID, name string, elapsed time.Duration, err error) {
	s.runs.finish(runID, "", nil, elapsed, err)
	s.hub.Publish(Event{
		Type:  EventRunFailed,
		RunID: runID,
		Flow:  name,
		Error: err.Error(),
	})
	s.logger.Warn("run failed",
		zap.String("flow", name),
		zap.String("run_id", runID),
		zap.Error(err),
	)
}

// handleListRuns 处理 GET /v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, RunListResponse{Runs: s.runs.list()})
}

// handleGetRun 处理 GET /v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.runs.get(id)
	if !ok {
		WriteError(w, r, types.NewNotFoundError("unknown run: "+id), s.logger)
		return
	}
	WriteSuccess(w, r, rec)
}

func isAsync(r *http.Request) bool {
	v := r.URL.Query().Get("async")
	if v == "" {
		return false
	}
	async, err := strconv.ParseBool(v)
	return err == nil && async
}

// =============================================================================
// 🧹 生命周期
// =============================================================================

// Close 停止限流清理、排空工作池并断开事件订阅者。幂等。
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.limiterCancel != nil {
			s.limiterCancel()
		}
		s.pool.Close()
		s.hub.Close()
	})
}
