package marketing

import (
	"context"
	"time"

	"github.com/BaSui01/marketflow/flow"
)

// ============================================================
// Prebuilt flows
// ============================================================

// Registered flow names.
const (
	FlowContentCreation     = "content_creation"
	FlowContentDistribution = "content_distribution"
	FlowContentAnalytics    = "content_analytics"
	FlowEndToEnd            = "end_to_end_marketing"
	FlowGTMStrategy         = "gtm_strategy"
)

// Branch labels used by the GTM strategy graph.
const (
	ActionMessaging flow.Action = "messaging"
	ActionChannels  flow.Action = "channels"
)

// DefaultChannels returns the standard distribution channel list.
func DefaultChannels() []string {
	return []string{"website", "email", "social_media", "blog"}
}

// CreationConfig shapes the content-creation graph.
type CreationConfig struct {
	// ContentType pins the generated content type; empty keeps the store's
	// content_type (default blog).
	ContentType string
	// SkipResearch starts the flow at generation.
	SkipResearch bool
	// SkipOptimization ends the flow after generation.
	SkipOptimization bool
}

// NewContentCreationFlow builds research → generation → optimization as a
// sequential default-label chain. Research and optimization are optional
// per config.
func NewContentCreationFlow(ts *Toolset, cfg CreationConfig) *flow.Flow {
	var genOpts []NodeOption
	if cfg.ContentType != "" {
		genOpts = append(genOpts, WithParamOverrides(map[string]any{"content_type": cfg.ContentType}))
	}
	generation := NewGenerationNode(ts.Generation, genOpts...)

	f := flow.NewFlow(FlowContentCreation)
	if cfg.SkipResearch {
		f.Start(generation)
	} else {
		research := NewResearchNode(ts.Research)
		f.Start(research).ConnectDefault(research, generation)
	}
	if !cfg.SkipOptimization {
		optimization := NewOptimizationNode(ts.Optimization)
		f.ConnectDefault(generation, optimization)
	}
	return f.Terminal(flow.DefaultAction)
}

// defaultFanoutConcurrency bounds the channel fan-out when the config
// leaves it unset.
const defaultFanoutConcurrency = 4

// DistributionConfig shapes the channel fan-out graph.
type DistributionConfig struct {
	// Channels to adapt and publish to; empty falls back to
	// DefaultChannels.
	Channels []string
	// Concurrency bounds the parallel channel adaptations (default 4).
	Concurrency int
}

// NewContentDistributionFlow fans the channel-adaptation sub-flow out over
// the channels concurrently, merges the per-channel scratches back into the
// run store, and publishes through the distribution stage.
func NewContentDistributionFlow(ts *Toolset, cfg DistributionConfig) *flow.Flow {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels()
	}
	channels = append([]string(nil), channels...)

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFanoutConcurrency
	}

	adapter := NewChannelAdapterNode("")
	adaptation := flow.NewFlow("channel_adaptation").
		Start(adapter).
		Terminal(flow.DefaultAction)

	fanout := flow.NewParallelBatchFlow("channel_fanout", adaptation,
		flow.WithBatchParams(channelParams(channels)),
		flow.WithFlowConcurrency(concurrency),
		flow.WithFlowMergePolicy(mergeAdaptations),
	)

	publish := NewDistributionNode(ts.Distribution,
		WithParamOverrides(map[string]any{"channels": channels}))

	return flow.NewFlow(FlowContentDistribution).
		Start(fanout).
		ConnectDefault(fanout, publish).
		Terminal(flow.DefaultAction)
}

// channelParams produces one parameter set per channel, in caller order.
func channelParams(channels []string) flow.BatchParamsFunc {
	return func(ctx context.Context, store *flow.Store) ([]map[string]any, error) {
		sets := make([]map[string]any, len(channels))
		for i, channel := range channels {
			sets[i] = map[string]any{"channel": channel}
		}
		return sets, nil
	}
}

// mergeAdaptations resolves concurrent writes to the adaptation map by
// union; later forks win per channel. Every other key keeps the engine's
// last-writer-wins behavior.
func mergeAdaptations(key string, existing, incoming any) any {
	if key != "channel_adaptations" {
		return incoming
	}
	prev, okPrev := existing.(map[string]any)
	next, okNext := incoming.(map[string]any)
	if !okPrev || !okNext {
		return incoming
	}
	merged := make(map[string]any, len(prev)+len(next))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	return merged
}

// NewContentAnalyticsFlow builds the three-stage analysis chain:
// data_collection → data_analysis → insight_generation.
func NewContentAnalyticsFlow(ts *Toolset) *flow.Flow {
	collection := NewAnalyticsNode(ts.Analytics, "data_collection")
	analysis := NewAnalyticsNode(ts.Analytics, "data_analysis")
	insight := NewAnalyticsNode(ts.Analytics, "insight_generation")

	return flow.NewFlow(FlowContentAnalytics).
		Start(collection).
		ConnectDefault(collection, analysis).
		ConnectDefault(analysis, insight).
		Terminal(flow.DefaultAction)
}

// EndToEndConfig shapes the full pipeline.
type EndToEndConfig struct {
	Creation CreationConfig
	Channels []string
	// Concurrency bounds the distribution fan-out (default 4).
	Concurrency int
}

// NewEndToEndFlow nests creation → distribution → analytics, composing the
// three prebuilt flows as units of an outer graph.
func NewEndToEndFlow(ts *Toolset, cfg EndToEndConfig) *flow.Flow {
	creation := NewContentCreationFlow(ts, cfg.Creation)
	distribution := NewContentDistributionFlow(ts, DistributionConfig{
		Channels:    cfg.Channels,
		Concurrency: cfg.Concurrency,
	})
	analyticsFlow := NewContentAnalyticsFlow(ts)

	return flow.NewFlow(FlowEndToEnd).
		Start(creation).
		ConnectDefault(creation, distribution).
		ConnectDefault(distribution, analyticsFlow).
		Terminal(flow.DefaultAction)
}

// GTMConfig shapes the go-to-market strategy graph.
type GTMConfig struct {
	// MaxRetries is the per-node attempt budget (default 2).
	MaxRetries int
	// RetryWait overrides the pause between attempts when positive.
	RetryWait time.Duration
}

// NewGTMStrategyFlow builds the go-to-market graph: market and competitor
// research feed positioning, which branches on the store key
// "strategy_focus" ("channels" routes through channel strategy, anything
// else through messaging and content planning) before campaign planning,
// sales materials, and the KPI framework close the run.
//
// Each stage writes its output under its own store key (positioning,
// messaging, channel_strategy, content_plan, campaign_plan,
// sales_materials) in addition to the shared generation keys.
func NewGTMStrategyFlow(ts *Toolset, cfg GTMConfig) *flow.Flow {
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 2
	}
	common := func(extra ...NodeOption) []NodeOption {
		opts := []NodeOption{WithMaxRetries(retries)}
		if cfg.RetryWait > 0 {
			opts = append(opts, WithWait(cfg.RetryWait))
		}
		return append(opts, extra...)
	}

	market := NewResearchNode(ts.Research, common(
		WithName("market_research"),
		WithOutputKey("market_research"),
	)...)
	competitor := NewResearchNode(ts.Research, common(
		WithName("competitor_research"),
		WithOutputKey("competitor_research"),
		WithParamOverrides(map[string]any{"research_type": "competitor"}),
	)...)

	positioning := NewGenerationNode(ts.Generation, common(
		WithName("positioning"),
		WithOutputKey("positioning"),
		WithParamOverrides(map[string]any{"content_type": "blog"}),
		WithRouter(strategyFocusRoute),
	)...)
	messaging := NewGenerationNode(ts.Generation, common(
		WithName("messaging"),
		WithOutputKey("messaging"),
		WithParamOverrides(map[string]any{"content_type": "social"}),
	)...)
	channelStrategy := NewGenerationNode(ts.Generation, common(
		WithName("channel_strategy"),
		WithOutputKey("channel_strategy"),
		WithParamOverrides(map[string]any{"content_type": "email"}),
	)...)
	contentPlan := NewGenerationNode(ts.Generation, common(
		WithName("content_plan"),
		WithOutputKey("content_plan"),
		WithParamOverrides(map[string]any{"content_type": "blog"}),
	)...)
	campaignPlan := NewGenerationNode(ts.Generation, common(
		WithName("campaign_plan"),
		WithOutputKey("campaign_plan"),
		WithParamOverrides(map[string]any{"content_type": "email"}),
	)...)
	salesMaterials := NewGenerationNode(ts.Generation, common(
		WithName("sales_materials"),
		WithOutputKey("sales_materials"),
		WithParamOverrides(map[string]any{"content_type": "ad"}),
	)...)
	kpi := NewAnalyticsNode(ts.Analytics, "performance", common(
		WithName("kpi_framework"),
	)...)

	return flow.NewFlow(FlowGTMStrategy).
		Start(market).
		ConnectDefault(market, competitor).
		ConnectDefault(competitor, positioning).
		Connect(positioning, ActionMessaging, messaging).
		Connect(positioning, ActionChannels, channelStrategy).
		ConnectDefault(messaging, contentPlan).
		ConnectDefault(contentPlan, campaignPlan).
		ConnectDefault(channelStrategy, campaignPlan).
		ConnectDefault(campaignPlan, salesMaterials).
		ConnectDefault(salesMaterials, kpi).
		Terminal(flow.DefaultAction)
}

// strategyFocusRoute selects the GTM branch from the run inputs.
func strategyFocusRoute(store *flow.Store) flow.Action {
	if focus, ok := store.GetString("strategy_focus"); ok && focus == "channels" {
		return ActionChannels
	}
	return ActionMessaging
}
