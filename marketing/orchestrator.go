package marketing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/flow"
	"github.com/BaSui01/marketflow/internal/analytics"
	"github.com/BaSui01/marketflow/internal/cache"
	"github.com/BaSui01/marketflow/internal/metrics"
	"github.com/BaSui01/marketflow/internal/repository"
	"github.com/BaSui01/marketflow/internal/telemetry"
	"github.com/BaSui01/marketflow/llm"
	"github.com/BaSui01/marketflow/types"
)

// ============================================================
// Orchestrator
// ============================================================

// Orchestrator is the façade over the marketing workflows: a registry of
// flows and tools plus the run loop that seeds the store, attaches
// observers, and persists results. Safe for concurrent use.
type Orchestrator struct {
	logger    *zap.Logger
	collector *metrics.Collector
	tracing   bool
	cacheMgr  *cache.Manager
	provider  llm.Provider
	model     string
	repo      *repository.ContentRepository
	sink      analytics.Store
	channels  []string
	fanout    int
	obsFunc   func(runID, flowName string) flow.Observer

	toolset *Toolset

	mu    sync.RWMutex
	flows map[string]flow.Runner
	tools map[string]Tool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger (default no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches a Prometheus collector; runs then report flow, node,
// retry, batch, cache, and LLM metrics.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = collector }
}

// WithTracing enables per-run OpenTelemetry span trees.
func WithTracing(enabled bool) Option {
	return func(o *Orchestrator) { o.tracing = enabled }
}

// WithCache attaches the Redis cache used by the research tool.
func WithCache(m *cache.Manager) Option {
	return func(o *Orchestrator) { o.cacheMgr = m }
}

// WithProvider attaches the LLM provider used by the generation tool.
// Without one, generation renders the built-in templates.
func WithProvider(p llm.Provider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithModel sets the model requested from the provider.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithRepository attaches the content repository; successful runs that
// produced content are then recorded along with their distributions.
func WithRepository(repo *repository.ContentRepository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// WithAnalyticsSink attaches the snapshot store fed by the analytics tool.
func WithAnalyticsSink(sink analytics.Store) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithObserverFactory registers a callback invoked once per run to build an
// extra observer for that run. Event feeds hook in here.
func WithObserverFactory(fn func(runID, flowName string) flow.Observer) Option {
	return func(o *Orchestrator) { o.obsFunc = fn }
}

// WithChannels overrides the channel list the prebuilt distribution and
// end-to-end flows are registered with.
func WithChannels(channels []string) Option {
	return func(o *Orchestrator) {
		if len(channels) > 0 {
			o.channels = append([]string(nil), channels...)
		}
	}
}

// WithFanoutConcurrency bounds the parallel channel adaptations in the
// prebuilt distribution and end-to-end flows (default 4).
func WithFanoutConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fanout = n
		}
	}
}

// NewOrchestrator builds an orchestrator with the default toolset and the
// prebuilt flows registered.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		channels: DefaultChannels(),
		flows:    make(map[string]flow.Runner),
		tools:    make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.toolset = NewToolset(ToolsetConfig{
		Logger:    o.logger,
		Cache:     o.cacheMgr,
		Collector: o.collector,
		Provider:  o.provider,
		Model:     o.model,
		Sink:      o.sink,
	})
	for _, tool := range o.toolset.All() {
		o.tools[tool.Name()] = tool
	}

	o.flows[FlowContentCreation] = NewContentCreationFlow(o.toolset, CreationConfig{})
	o.flows[FlowContentDistribution] = NewContentDistributionFlow(o.toolset, DistributionConfig{
		Channels:    o.channels,
		Concurrency: o.fanout,
	})
	o.flows[FlowContentAnalytics] = NewContentAnalyticsFlow(o.toolset)
	o.flows[FlowEndToEnd] = NewEndToEndFlow(o.toolset, EndToEndConfig{
		Channels:    o.channels,
		Concurrency: o.fanout,
	})
	o.flows[FlowGTMStrategy] = NewGTMStrategyFlow(o.toolset, GTMConfig{})
	return o
}

// Toolset returns the tool bundle the orchestrator was built with, for
// composing custom flows against the same collaborators.
func (o *Orchestrator) Toolset() *Toolset { return o.toolset }

// RegisterFlow adds or replaces a named workflow.
func (o *Orchestrator) RegisterFlow(name string, runner flow.Runner) error {
	if name == "" {
		return fmt.Errorf("flow name is required")
	}
	if runner == nil {
		return fmt.Errorf("flow %s: runner is required", name)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.flows[name]; exists {
		o.logger.Debug("replacing registered flow", zap.String("flow", name))
	}
	o.flows[name] = runner
	return nil
}

// RegisterTool adds or replaces a tool under its own name.
func (o *Orchestrator) RegisterTool(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool with a name is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools[tool.Name()] = tool
	return nil
}

// Flow looks up a registered workflow.
func (o *Orchestrator) Flow(name string) (flow.Runner, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	runner, ok := o.flows[name]
	return runner, ok
}

// Tool looks up a registered tool.
func (o *Orchestrator) Tool(name string) (Tool, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tool, ok := o.tools[name]
	return tool, ok
}

// Flows lists the registered workflow names, sorted.
func (o *Orchestrator) Flows() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.flows))
	for name := range o.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools lists the registered tool names, sorted.
func (o *Orchestrator) Tools() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.tools))
	for name := range o.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunResult reports one completed workflow run.
type RunResult struct {
	RunID    string         `json:"run_id"`
	FlowName string         `json:"flow"`
	Action   flow.Action    `json:"action"`
	Store    map[string]any `json:"store"`
	Duration time.Duration  `json:"duration"`
}

// Run executes a registered workflow with the given inputs seeded into a
// fresh store. The run id comes from the context when one was seeded via
// types.WithRunID, otherwise it is generated here; either way nodes see it
// under the store key "run_id". Results are persisted through the configured
// repository after a successful run; persistence problems are logged, not
// returned, since the run itself succeeded.
func (o *Orchestrator) Run(ctx context.Context, name string, inputs map[string]any) (*RunResult, error) {
	runner, ok := o.Flow(name)
	if !ok {
		return nil, fmt.Errorf("unknown flow: %s", name)
	}

	runID, seeded := types.RunID(ctx)
	if !seeded || runID == "" {
		runID = uuid.NewString()
	}
	store := flow.NewStoreFrom(inputs)
	store.Set("run_id", runID)

	runLogger := o.logger.With(zap.String("flow", name), zap.String("run_id", runID))
	observers := flow.MultiObserver{logObserver{logger: runLogger}}
	if o.collector != nil {
		observers = append(observers, metrics.NewObserver(o.collector))
	}
	if o.tracing {
		// One tracing observer per run keeps concurrent span trees apart.
		observers = append(observers, telemetry.NewObserver())
	}
	if o.obsFunc != nil {
		if obs := o.obsFunc(runID, name); obs != nil {
			observers = append(observers, obs)
		}
	}
	ctx = flow.WithObserver(ctx, observers)

	started := time.Now()
	action, err := runner.Run(ctx, store)
	elapsed := time.Since(started)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	o.persist(ctx, runID, name, store)
	return &RunResult{
		RunID:    runID,
		FlowName: name,
		Action:   action,
		Store:    store.Snapshot(),
		Duration: elapsed,
	}, nil
}

// persist records the run's content and distributions. Runs that produced
// no content (analytics-only graphs) are skipped.
func (o *Orchestrator) persist(ctx context.Context, runID, flowName string, store *flow.Store) {
	if o.repo == nil {
		return
	}
	body, _ := store.GetString("optimized_content")
	if body == "" {
		body, _ = store.GetString("generated_content")
	}
	if body == "" {
		o.logger.Debug("run produced no content, skipping persistence",
			zap.String("flow", flowName), zap.String("run_id", runID))
		return
	}

	score, _ := store.GetInt("optimization_score")
	record := &repository.ContentRecord{
		RunID:             runID,
		FlowName:          flowName,
		Topic:             storeString(store, "topic", "marketing automation"),
		ContentType:       storeString(store, "content_type", "blog"),
		TargetAudience:    storeString(store, "target_audience", ""),
		Tone:              storeString(store, "tone", ""),
		Body:              body,
		OptimizationScore: score,
	}
	if err := o.repo.SaveContent(ctx, record); err != nil {
		o.logger.Warn("content persistence failed",
			zap.String("run_id", runID), zap.Error(err))
		return
	}

	results, ok := store.GetMap("distribution_results")
	if !ok {
		return
	}
	byChannel, _ := results["channels"].(map[string]any)
	if len(byChannel) == 0 {
		return
	}
	channels := make([]string, 0, len(byChannel))
	for channel := range byChannel {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	records := make([]*repository.DistributionRecord, 0, len(channels))
	for _, channel := range channels {
		entry, _ := byChannel[channel].(map[string]any)
		records = append(records, &repository.DistributionRecord{
			RunID:         runID,
			Channel:       channel,
			Status:        paramString(entry, "status", ""),
			URL:           paramString(entry, "url", ""),
			AudienceReach: toInt(entry["audience_reach"]),
		})
	}
	if err := o.repo.SaveDistributions(ctx, record.ID, records); err != nil {
		o.logger.Warn("distribution persistence failed",
			zap.String("run_id", runID), zap.Error(err))
	}
}

// ============================================================
// Run logging
// ============================================================

// logObserver narrates the run lifecycle on a run-scoped logger.
type logObserver struct {
	logger *zap.Logger
}

var _ flow.Observer = logObserver{}

func (l logObserver) FlowStarted(name string) {
	l.logger.Info("flow started", zap.String("unit", name))
}

func (l logObserver) FlowFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	if err != nil {
		l.logger.Error("flow failed",
			zap.String("unit", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	l.logger.Info("flow finished",
		zap.String("unit", name),
		zap.String("action", string(action)),
		zap.Duration("elapsed", elapsed))
}

func (l logObserver) NodeStarted(name string) {
	l.logger.Debug("node started", zap.String("unit", name))
}

func (l logObserver) NodeFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	if err != nil {
		l.logger.Warn("node failed",
			zap.String("unit", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	l.logger.Debug("node finished",
		zap.String("unit", name),
		zap.String("action", string(action)),
		zap.Duration("elapsed", elapsed))
}

func (l logObserver) RetryScheduled(name string, attempt int, wait time.Duration, cause error) {
	l.logger.Warn("node retry scheduled",
		zap.String("unit", name),
		zap.Int("attempt", attempt),
		zap.Duration("wait", wait),
		zap.Error(cause))
}

func (l logObserver) FallbackInvoked(name string, cause error) {
	l.logger.Warn("node fallback invoked", zap.String("unit", name), zap.Error(cause))
}

func (l logObserver) BatchItemStarted(name string, index int) {
	l.logger.Debug("batch item started", zap.String("unit", name), zap.Int("index", index))
}

func (l logObserver) BatchItemFinished(name string, index int, err error) {
	if err != nil {
		l.logger.Warn("batch item failed",
			zap.String("unit", name), zap.Int("index", index), zap.Error(err))
		return
	}
	l.logger.Debug("batch item finished", zap.String("unit", name), zap.Int("index", index))
}

func (l logObserver) ScratchMerged(name string, forks int) {
	l.logger.Debug("scratch stores merged", zap.String("unit", name), zap.Int("forks", forks))
}
