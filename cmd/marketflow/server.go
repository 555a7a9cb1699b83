package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/api"
	"github.com/BaSui01/marketflow/config"
	"github.com/BaSui01/marketflow/internal/analytics"
	"github.com/BaSui01/marketflow/internal/cache"
	"github.com/BaSui01/marketflow/internal/database"
	"github.com/BaSui01/marketflow/internal/metrics"
	"github.com/BaSui01/marketflow/internal/repository"
	"github.com/BaSui01/marketflow/internal/server"
	"github.com/BaSui01/marketflow/internal/telemetry"
	"github.com/BaSui01/marketflow/llm"
	"github.com/BaSui01/marketflow/marketing"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// eventHubBuffer 每个 WebSocket 订阅者的事件缓冲大小
const eventHubBuffer = 256

// dbStatsInterval 连接池指标上报间隔
const dbStatsInterval = 15 * time.Second

// Server 是 MarketFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	collector *metrics.Collector
	hub       *api.EventHub
	orch      *marketing.Orchestrator
	apiServer *api.Server

	// 存储与外部依赖
	otel     *telemetry.Providers
	pool     *database.PoolManager
	cacheMgr *cache.Manager
	sink     analytics.Store

	// 后台循环生命周期
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化遥测
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("Failed to initialize telemetry", zap.Error(err))
	} else {
		s.otel = otelProviders
	}

	// 2. 指标收集器与事件中心
	s.collector = metrics.NewCollector("marketflow", s.logger)
	s.hub = api.NewEventHub(eventHubBuffer, s.logger)

	// 3. 存储层与编排器
	storeOpts := s.initStores()
	s.initOrchestrator(storeOpts)

	// 4. API 服务器
	s.initAPIServer()

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. 后台循环
	s.startBackgroundLoops()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("flows", s.orch.Flows()),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 初始化数据库、缓存与分析存储，返回对应的编排器选项。
// 数据库或 Redis 不可达时降级运行：持久化与缓存关闭，流程本身不受影响。
func (s *Server) initStores() []marketing.Option {
	opts := make([]marketing.Option, 0, 4)

	// 内容仓库
	pool, err := database.OpenPool(s.cfg.Database, s.logger)
	if err != nil {
		s.logger.Warn("Database not available, content persistence disabled", zap.Error(err))
	} else {
		s.pool = pool
		repo, repoErr := repository.NewContentRepository(pool, s.logger,
			repository.WithQueryRecorder(s.collector, s.cfg.Database.Name),
		)
		if repoErr != nil {
			s.logger.Warn("Content repository unavailable", zap.Error(repoErr))
		} else {
			opts = append(opts, marketing.WithRepository(repo))
		}
	}

	// Redis 缓存
	if s.cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		if s.cfg.Redis.TTL > 0 {
			cacheCfg.DefaultTTL = s.cfg.Redis.TTL
		}

		mgr, cacheErr := cache.NewManager(cacheCfg, s.logger)
		if cacheErr != nil {
			s.logger.Warn("Cache not available, research caching disabled", zap.Error(cacheErr))
		} else {
			s.cacheMgr = mgr
			opts = append(opts, marketing.WithCache(mgr))
		}
	}

	// 分析快照存储
	s.sink = s.openAnalyticsSink()
	opts = append(opts, marketing.WithAnalyticsSink(s.sink))

	return opts
}

// openAnalyticsSink 按配置选择分析存储后端，连接失败时回退到内存实现
func (s *Server) openAnalyticsSink() analytics.Store {
	switch s.cfg.Analytics.Backend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := analytics.ConnectMongo(ctx, s.cfg.Mongo)
		if err != nil {
			s.logger.Warn("Mongo not available, falling back to in-memory analytics", zap.Error(err))
			return analytics.NewMemoryStore()
		}
		store := analytics.NewMongoStore(client, s.cfg.Mongo, s.logger)
		store.EnsureIndexes(ctx)
		return store

	case "sqlite":
		store, err := analytics.OpenSQLiteStore(s.cfg.Analytics.SQLitePath, s.logger)
		if err != nil {
			s.logger.Warn("SQLite analytics store unavailable, falling back to in-memory", zap.Error(err))
			return analytics.NewMemoryStore()
		}
		return store

	default:
		return analytics.NewMemoryStore()
	}
}

// buildProvider 构建 LLM Provider，未配置 API Key 时使用内置 mock
func buildProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		opts := []llm.OpenAIOption{
			llm.WithClientLogger(logger),
			llm.WithTimeout(cfg.Timeout),
			llm.WithMaxRetries(cfg.MaxRetries),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, llm.WithModel(cfg.Model))
		}
		if cfg.RateLimitRPS > 0 {
			opts = append(opts, llm.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		return llm.NewOpenAIClient(cfg.APIKey, opts...)
	}

	if cfg.Provider == "openai" {
		logger.Info("LLM API key not configured, using the mock provider")
	}
	return llm.NewMockProvider()
}

// applyEngineRetries 将引擎配置的重试预算套用到 GTM 流程
func applyEngineRetries(orch *marketing.Orchestrator, cfg config.EngineConfig, logger *zap.Logger) {
	if cfg.MaxRetries <= 0 && cfg.RetryWait <= 0 {
		return
	}
	gtm := marketing.NewGTMStrategyFlow(orch.Toolset(), marketing.GTMConfig{
		MaxRetries: cfg.MaxRetries,
		RetryWait:  cfg.RetryWait,
	})
	if err := orch.RegisterFlow(marketing.FlowGTMStrategy, gtm); err != nil {
		logger.Error("Failed to register GTM flow", zap.Error(err))
	}
}

// initOrchestrator 构建编排器并注册预置流程
func (s *Server) initOrchestrator(storeOpts []marketing.Option) {
	opts := []marketing.Option{
		marketing.WithLogger(s.logger),
		marketing.WithMetrics(s.collector),
		marketing.WithTracing(s.cfg.Telemetry.Enabled),
		marketing.WithProvider(buildProvider(s.cfg.LLM, s.logger)),
		marketing.WithObserverFactory(s.hub.Observer),
	}
	if s.cfg.LLM.Model != "" {
		opts = append(opts, marketing.WithModel(s.cfg.LLM.Model))
	}
	if n := s.cfg.Engine.Concurrency; n > 0 {
		opts = append(opts, marketing.WithFanoutConcurrency(n))
	}
	opts = append(opts, storeOpts...)

	s.orch = marketing.NewOrchestrator(opts...)
	applyEngineRetries(s.orch, s.cfg.Engine, s.logger)

	if s.cfg.Engine.ValidateFlows {
		s.validateFlows()
	}
}

// validateFlows 校验注册流程的图结构，启动时尽早暴露图定义错误
func (s *Server) validateFlows() {
	for _, name := range s.orch.Flows() {
		runner, ok := s.orch.Flow(name)
		if !ok {
			continue
		}
		v, ok := runner.(interface{ Validate() error })
		if !ok {
			continue
		}
		if err := v.Validate(); err != nil {
			s.logger.Error("Flow graph validation failed",
				zap.String("flow", name),
				zap.Error(err),
			)
		}
	}
}

// initAPIServer 组装 API 服务器与就绪检查
func (s *Server) initAPIServer() {
	apiOpts := []api.ServerOption{
		api.WithLogger(s.logger),
		api.WithCollector(s.collector),
		api.WithEventHub(s.hub),
		api.WithTracing(s.cfg.Telemetry.Enabled),
		api.WithRunTimeout(s.cfg.Engine.RunTimeout),
		api.WithRateLimit(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
		api.WithCORS(s.cfg.Server.CORSAllowedOrigins),
		api.WithVersion(api.VersionInfo{
			Version:   Version,
			BuildTime: BuildTime,
			GitCommit: GitCommit,
		}),
	}
	if s.cfg.Server.JWTSecret != "" {
		apiOpts = append(apiOpts, api.WithJWT(api.JWTConfig{
			Secret: s.cfg.Server.JWTSecret,
			Issuer: s.cfg.Server.JWTIssuer,
		}))
	}

	s.apiServer = api.New(s.orch, apiOpts...)

	// 就绪检查依赖探活
	if s.pool != nil {
		s.apiServer.RegisterHealthCheck(api.NewPingCheck("database", s.pool.Ping))
	}
	if s.cacheMgr != nil {
		s.apiServer.RegisterHealthCheck(api.NewPingCheck("redis", s.cacheMgr.Ping))
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(s.apiServer.Handler(), serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🔄 后台循环
// =============================================================================

// startBackgroundLoops 启动连接池指标上报与分析快照清理循环
func (s *Server) startBackgroundLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel

	if s.pool != nil {
		s.wg.Add(1)
		go s.reportDBStats(ctx)
	}

	if s.sink != nil && s.cfg.Analytics.Retention > 0 {
		s.wg.Add(1)
		go s.purgeAnalytics(ctx)
	}
}

// reportDBStats 周期性上报数据库连接池使用情况
func (s *Server) reportDBStats(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			s.collector.RecordDBConnections(s.cfg.Database.Name, stats.OpenConnections, stats.Idle)
		}
	}
}

// purgeAnalytics 按保留时长定期清理过期分析快照。
// 清理间隔为保留时长的四分之一，限定在 1 分钟到 1 小时之间。
func (s *Server) purgeAnalytics(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Analytics.Retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.Analytics.Retention)
			purged, err := s.sink.Purge(ctx, cutoff)
			if err != nil {
				s.logger.Warn("Analytics purge failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				s.logger.Info("Purged expired analytics snapshots", zap.Int64("count", purged))
			}
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// httpManager 监听信号并先行关闭 HTTP 服务
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止后台循环
	if s.loopCancel != nil {
		s.loopCancel()
	}

	// 2. 关闭 HTTP 服务器（已关闭时为幂等操作）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 API 服务器（工作池与事件中心）
	if s.apiServer != nil {
		s.apiServer.Close()
	}

	// 5. 关闭存储
	if s.sink != nil {
		if err := s.sink.Close(ctx); err != nil {
			s.logger.Error("Analytics store close error", zap.Error(err))
		}
	}
	if s.cacheMgr != nil {
		if err := s.cacheMgr.Close(); err != nil {
			s.logger.Error("Cache close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	// 6. 关闭遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 7. 等待后台 goroutine 退出
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
