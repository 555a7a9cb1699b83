package marketing

import (
	"context"
	"sort"
	"time"

	"github.com/BaSui01/marketflow/flow"
)

// ============================================================
// Node construction
//
// Each constructor wraps one tool as an engine node with the shared-store
// key contract the flows rely on. Defaults: 3 attempts, 1s between
// retries.
// ============================================================

const (
	defaultNodeRetries = 3
	defaultNodeWait    = time.Second
)

type nodeSettings struct {
	name       string
	maxRetries int
	wait       time.Duration
	overrides  map[string]any
	outputKey  string
	route      func(store *flow.Store) flow.Action
}

// NodeOption adjusts one marketing node.
type NodeOption func(*nodeSettings)

// WithName overrides the node's diagnostic name. Graphs that use the same
// kind of node more than once need distinct names per instance.
func WithName(name string) NodeOption {
	return func(s *nodeSettings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithMaxRetries sets the total execute attempts.
func WithMaxRetries(n int) NodeOption {
	return func(s *nodeSettings) { s.maxRetries = n }
}

// WithWait sets the pause between retry attempts.
func WithWait(d time.Duration) NodeOption {
	return func(s *nodeSettings) { s.wait = d }
}

// WithParamOverrides pins tool parameters regardless of store contents,
// applied after the node's prep defaults.
func WithParamOverrides(overrides map[string]any) NodeOption {
	return func(s *nodeSettings) { s.overrides = overrides }
}

// WithOutputKey writes the node's primary output under an additional store
// key, so multi-instance graphs keep each stage's result addressable.
func WithOutputKey(key string) NodeOption {
	return func(s *nodeSettings) { s.outputKey = key }
}

// WithRouter computes the node's result action from the store after
// finalize, for branch points that route on prior writes. Without a router
// nodes return the default action.
func WithRouter(fn func(store *flow.Store) flow.Action) NodeOption {
	return func(s *nodeSettings) { s.route = fn }
}

func newNodeSettings(name string, opts ...NodeOption) *nodeSettings {
	s := &nodeSettings{name: name, maxRetries: defaultNodeRetries, wait: defaultNodeWait}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *nodeSettings) apply(params map[string]any) map[string]any {
	for k, v := range s.overrides {
		params[k] = v
	}
	return params
}

func (s *nodeSettings) action(store *flow.Store) flow.Action {
	if s.route != nil {
		return s.route(store)
	}
	return flow.DefaultAction
}

func storeString(store *flow.Store, key, def string) string {
	if v, ok := store.GetString(key); ok && v != "" {
		return v
	}
	return def
}

func asParams(input any) map[string]any {
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asResult(result any) map[string]any {
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ============================================================
// Research
// ============================================================

// NewResearchNode builds the research stage. Prep reads topic,
// research_type (default keyword), and depth (default detailed); post
// writes research_results, research_keywords, research_sources,
// research_trends, and research_completed.
func NewResearchNode(tool *ContentResearchTool, opts ...NodeOption) *flow.Node {
	s := newNodeSettings("research", opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			return s.apply(map[string]any{
				"topic":         storeString(store, "topic", "marketing automation"),
				"research_type": storeString(store, "research_type", "keyword"),
				"depth":         storeString(store, "depth", "detailed"),
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			return tool.Execute(ctx, asParams(input))
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			store.Set("research_results", res)
			store.Set("research_keywords", stringSlice(res["keywords"]))
			store.Set("research_sources", stringSlice(res["sources"]))
			store.Set("research_trends", stringSlice(res["trends"]))
			store.Set("research_completed", true)
			if s.outputKey != "" {
				store.Set(s.outputKey, res)
			}
			return s.action(store), nil
		}),
	)
}

// ============================================================
// Generation
// ============================================================

// NewGenerationNode builds the content-generation stage. Prep merges the
// research keywords with content_type/topic/target_audience/tone/length;
// post writes generated_content, content_type, and generation_completed.
// The node's fallback renders the template set, so runs complete even when
// the provider path is down.
func NewGenerationNode(tool *ContentGenerationTool, opts ...NodeOption) *flow.Node {
	s := newNodeSettings("content_generation", opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			keywords, _ := store.GetStringSlice("research_keywords")
			return s.apply(map[string]any{
				"content_type":    storeString(store, "content_type", "blog"),
				"topic":           storeString(store, "topic", "marketing automation"),
				"target_audience": storeString(store, "target_audience", "marketing professionals"),
				"tone":            storeString(store, "tone", "professional"),
				"length":          storeString(store, "length", "medium"),
				"keywords":        keywords,
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			return tool.Execute(ctx, asParams(input))
		}),
		flow.WithFallback(func(ctx context.Context, input any, execErr error) (any, error) {
			return tool.fallbackResult(asParams(input), execErr), nil
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			content, _ := res["generated_content"].(string)
			store.Set("generated_content", content)
			store.Set("content_type", paramString(res, "content_type", storeString(store, "content_type", "blog")))
			store.Set("generation_completed", true)
			if s.outputKey != "" {
				store.Set(s.outputKey, content)
			}
			return s.action(store), nil
		}),
	)
}

// ============================================================
// Optimization
// ============================================================

// NewOptimizationNode builds the optimization stage. Prep feeds the
// generated content and research keywords to the tool; post writes
// optimized_content, optimization_recommendations, optimization_score, and
// optimization_completed.
func NewOptimizationNode(tool *ContentOptimizationTool, opts ...NodeOption) *flow.Node {
	s := newNodeSettings("content_optimization", opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			keywords, _ := store.GetStringSlice("research_keywords")
			content, _ := store.GetString("generated_content")
			return s.apply(map[string]any{
				"content":           content,
				"optimization_type": storeString(store, "optimization_type", "all"),
				"target_keywords":   keywords,
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			return tool.Execute(ctx, asParams(input))
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			// The tool reports previews and recommendations; the full text
			// that downstream stages adapt is the prepared content.
			content := paramString(asParams(input), "content", "")
			store.Set("optimized_content", content)
			store.Set("optimization_recommendations", stringSlice(res["recommendations"]))
			store.Set("optimization_score", toInt(res["optimization_score"]))
			store.Set("optimization_completed", true)
			if s.outputKey != "" {
				store.Set(s.outputKey, res)
			}
			return s.action(store), nil
		}),
	)
}

// ============================================================
// Channel adaptation
// ============================================================

// NewChannelAdapterNode builds the per-channel adaptation stage. With a
// fixed channel the node always adapts for it; with channel == "" the
// channel is read from the store key "channel" (how the distribution
// fan-out parameterizes each iteration). Post merges the adapted copy into
// the channel_adaptations map and sets adaptation_completed.
func NewChannelAdapterNode(channel string, opts ...NodeOption) *flow.Node {
	name := "channel_adapter"
	if channel != "" {
		name = "channel_adapter_" + channel
	}
	s := newNodeSettings(name, opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			content, _ := store.GetString("optimized_content")
			if content == "" {
				content, _ = store.GetString("generated_content")
			}
			ch := channel
			if ch == "" {
				ch = storeString(store, "channel", "website")
			}
			return s.apply(map[string]any{
				"content":         content,
				"channel":         ch,
				"target_audience": storeString(store, "target_audience", "general"),
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			params := asParams(input)
			ch := paramString(params, "channel", "website")
			content := paramString(params, "content", "")
			return map[string]any{
				"channel":          ch,
				"adapted_content":  "Adapted for " + ch + ": " + preview(content, 100),
				"original_content": content,
			}, nil
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			ch := paramString(res, "channel", "website")
			// Copy before writing: in a parallel fan-out the existing map
			// belongs to the parent store and is visible to sibling forks.
			existing, _ := store.GetMap("channel_adaptations")
			merged := make(map[string]any, len(existing)+1)
			for k, v := range existing {
				merged[k] = v
			}
			merged[ch] = res["adapted_content"]
			store.Set("channel_adaptations", merged)
			store.Set("adaptation_completed", true)
			return s.action(store), nil
		}),
	)
}

// ============================================================
// Distribution
// ============================================================

// NewDistributionNode builds the publish stage. Prep collects the adapted
// channels (explicit "channels" store key first, then the adaptation map),
// scheduling, and content_id; post writes distribution_results and
// distribution_completed.
func NewDistributionNode(tool *ContentDistributionTool, opts ...NodeOption) *flow.Node {
	s := newNodeSettings("content_distribution", opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			channels, _ := store.GetStringSlice("channels")
			if len(channels) == 0 {
				channels = adaptedChannels(store)
			}
			adaptations, _ := store.GetMap("channel_adaptations")
			return s.apply(map[string]any{
				"content":    adaptations,
				"channels":   channels,
				"scheduling": storeString(store, "scheduling", "immediate"),
				"content_id": storeString(store, "content_id", "content-123"),
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			return tool.Execute(ctx, asParams(input))
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			store.Set("distribution_results", res)
			store.Set("distribution_completed", true)
			if s.outputKey != "" {
				store.Set(s.outputKey, res)
			}
			return s.action(store), nil
		}),
	)
}

// ============================================================
// Analytics
// ============================================================

// NewAnalyticsNode builds one analysis stage. kind names the stage
// (data_collection, data_analysis, insight_generation, performance) and is
// the default node name. Prep targets the adapted channels when present;
// post writes analytics_results, analytics_insights, and
// analytics_completed.
func NewAnalyticsNode(tool *ContentAnalyticsTool, kind string, opts ...NodeOption) *flow.Node {
	if kind == "" {
		kind = "data_collection"
	}
	s := newNodeSettings(kind, opts...)
	return flow.NewNode(s.name,
		flow.WithMaxRetries(s.maxRetries),
		flow.WithWait(s.wait),
		flow.WithPrep(func(ctx context.Context, store *flow.Store) (any, error) {
			channels, _ := store.GetStringSlice("channels")
			if len(channels) == 0 {
				channels = adaptedChannels(store)
			}
			metricNames, _ := store.GetStringSlice("metrics")
			return s.apply(map[string]any{
				"content_id":  storeString(store, "content_id", "current"),
				"channels":    channels,
				"metrics":     metricNames,
				"time_period": storeString(store, "time_period", "last_week"),
				"run_id":      storeString(store, "run_id", ""),
			}), nil
		}),
		flow.WithExec(func(ctx context.Context, input any) (any, error) {
			return tool.Execute(ctx, asParams(input))
		}),
		flow.WithPost(func(ctx context.Context, store *flow.Store, input, result any) (flow.Action, error) {
			res := asResult(result)
			store.Set("analytics_results", res)
			store.Set("analytics_insights", stringSlice(res["insights"]))
			store.Set("analytics_completed", true)
			if s.outputKey != "" {
				store.Set(s.outputKey, res)
			}
			return s.action(store), nil
		}),
	)
}

// adaptedChannels lists the channels present in the adaptation map, sorted
// for deterministic downstream ordering.
func adaptedChannels(store *flow.Store) []string {
	adaptations, ok := store.GetMap("channel_adaptations")
	if !ok || len(adaptations) == 0 {
		return nil
	}
	channels := make([]string, 0, len(adaptations))
	for ch := range adaptations {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}
