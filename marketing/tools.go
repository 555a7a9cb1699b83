package marketing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/BaSui01/marketflow/internal/analytics"
	"github.com/BaSui01/marketflow/internal/cache"
	"github.com/BaSui01/marketflow/internal/metrics"
	"github.com/BaSui01/marketflow/llm"
)

// ============================================================
// Tool contract
// ============================================================

// Tool is one marketing capability invoked with loosely typed parameters.
// Tools are stateless between calls and safe for concurrent use; collaborators
// (cache, metrics, LLM provider, analytics sink) are injected at construction
// and may be nil, in which case the tool degrades to its built-in behavior.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// ToolsetConfig carries the shared collaborators for the default tools.
// Every field is optional.
type ToolsetConfig struct {
	Logger    *zap.Logger
	Cache     *cache.Manager
	Collector *metrics.Collector
	Provider  llm.Provider
	Model     string
	Sink      analytics.Store
}

// Toolset bundles one instance of each marketing tool wired against the same
// collaborators. Flows and the orchestrator are built from a Toolset.
type Toolset struct {
	Research     *ContentResearchTool
	Generation   *ContentGenerationTool
	Optimization *ContentOptimizationTool
	Distribution *ContentDistributionTool
	Analytics    *ContentAnalyticsTool
}

// NewToolset builds the default tool bundle.
func NewToolset(cfg ToolsetConfig) *Toolset {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolset{
		Research:     NewContentResearchTool(cfg.Cache, cfg.Collector, logger),
		Generation:   NewContentGenerationTool(cfg.Provider, cfg.Model, cfg.Collector, logger),
		Optimization: NewContentOptimizationTool(logger),
		Distribution: NewContentDistributionTool(logger),
		Analytics:    NewContentAnalyticsTool(cfg.Sink, logger),
	}
}

// All returns the bundled tools in registration order.
func (t *Toolset) All() []Tool {
	return []Tool{t.Research, t.Generation, t.Optimization, t.Distribution, t.Analytics}
}

// ============================================================
// Deterministic derivation
//
// The research corpus and the mock channel/analytics figures are derived
// from their inputs with FNV-1a, so repeated runs over the same inputs
// produce identical outputs. Figures land in the same ranges the live
// integrations report.
// ============================================================

func hashSeed(parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return h.Sum32()
}

// hashRange maps the seed onto [lo, hi] inclusive.
func hashRange(lo, hi int, parts ...string) int {
	if hi <= lo {
		return lo
	}
	return lo + int(hashSeed(parts...)%uint32(hi-lo+1))
}

// hashFloat maps the seed onto [lo, hi) rounded to two decimals.
func hashFloat(lo, hi float64, parts ...string) float64 {
	if hi <= lo {
		return lo
	}
	v := lo + (hi-lo)*float64(hashSeed(parts...)%10000)/10000
	return math.Round(v*100) / 100
}

// ============================================================
// Parameter helpers
// ============================================================

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func paramStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	return stringSlice(v)
}

// stringSlice coerces v into []string. JSON round trips (cache, HTTP inputs)
// turn []string into []any, so both shapes are accepted.
func stringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// preview truncates s to n runes with an ellipsis marker.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func topicSlug(topic string) string {
	return strings.ReplaceAll(strings.ToLower(topic), " ", "-")
}

// ============================================================
// Content research
// ============================================================

// ContentResearchTool derives keyword, source, and trend research for a
// topic. Results are cached by topic/type/depth when a cache manager is
// wired, with hit/miss accounting on the collector.
type ContentResearchTool struct {
	cache     *cache.Manager
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewContentResearchTool creates the research tool. cache and collector may
// be nil.
func NewContentResearchTool(c *cache.Manager, collector *metrics.Collector, logger *zap.Logger) *ContentResearchTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentResearchTool{cache: c, collector: collector, logger: logger}
}

// Name implements Tool.
func (t *ContentResearchTool) Name() string { return "content_research" }

// Execute runs research for params: topic, research_type (keyword|competitor|
// trend, default keyword), depth (basic|detailed|comprehensive, default
// basic).
func (t *ContentResearchTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	topic := paramString(params, "topic", "marketing automation")
	researchType := paramString(params, "research_type", "keyword")
	depth := paramString(params, "depth", "basic")

	cacheKey := fmt.Sprintf("research:%s:%s:%s", topicSlug(topic), researchType, depth)
	if t.cache != nil {
		var cached map[string]any
		err := t.cache.GetJSON(ctx, cacheKey, &cached)
		switch {
		case err == nil:
			t.recordCache(true)
			t.logger.Debug("research cache hit", zap.String("key", cacheKey))
			return cached, nil
		case cache.IsCacheMiss(err):
			t.recordCache(false)
		default:
			// Degraded cache is not fatal for research.
			t.logger.Warn("research cache lookup failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	slug := topicSlug(topic)
	result := map[string]any{
		"topic": topic,
		"keywords": []string{
			topic + " best practices",
			topic + " strategies",
			topic + " examples",
			topic + " tools",
			"how to implement " + topic,
		},
		"sources": []string{
			"https://example.com/blog/" + slug,
			"https://research.example.com/" + slug + "-analysis",
			"https://industry.example.com/trends/" + slug,
		},
		"trends": []string{
			"Increasing adoption of " + topic + " in enterprise",
			topic + " automation tools on the rise",
			"Integration of AI with " + topic + " solutions",
		},
		"research_type": researchType,
		"depth":         depth,
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cacheKey, result, 0); err != nil {
			t.logger.Warn("research cache store failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return result, nil
}

func (t *ContentResearchTool) recordCache(hit bool) {
	if t.collector == nil {
		return
	}
	if hit {
		t.collector.RecordCacheHit("research")
	} else {
		t.collector.RecordCacheMiss("research")
	}
}

// ============================================================
// Content generation
// ============================================================

// contentTemplates is the built-in copy set, used when no LLM provider is
// wired and as the degraded-mode fallback when the provider keeps failing.
// Unknown content types fall back to the blog template.
var contentTemplates = map[string]string{
	"blog": `# The Ultimate Guide to {topic}

## Introduction
In today's fast-paced business environment, {topic} has become increasingly important for organizations looking to stay competitive. This comprehensive guide will help you understand the key aspects of {topic} and how to implement it effectively in your organization.

## What is {topic}?
{topic} refers to the strategic use of advanced technologies and methodologies to streamline and enhance marketing processes. By leveraging data-driven insights and automated workflows, businesses can create more personalized and effective marketing campaigns.

## Benefits of {topic}
1. Increased efficiency and productivity
2. Enhanced customer targeting and personalization
3. Improved ROI on marketing investments
4. Better data collection and analysis
5. Streamlined workflow and collaboration

## How to Implement {topic} in Your Organization
Implementing {topic} requires a strategic approach and the right tools. Start by assessing your current marketing processes and identifying areas for improvement. Then, select appropriate technologies and develop a phased implementation plan.

## Conclusion
{topic} represents the future of marketing in a digital-first world. By embracing these advanced approaches, organizations can achieve better results while reducing manual effort and improving overall marketing effectiveness.`,

	"social": `📣 Attention {audience}!

Are you struggling with traditional marketing approaches? Learn how {topic} can transform your strategy and drive better results!

Key benefits:
✅ Increased efficiency
✅ Better targeting
✅ Higher ROI

Click the link to learn more! #MarketingTips #{hashtag}`,

	"email": `Subject: Transform Your Marketing Strategy with {topic}

Hi [First Name],

Are you looking to take your marketing efforts to the next level?

{topic} is revolutionizing how businesses connect with their customers and drive meaningful results. Our latest guide explores how you can:

- Streamline your marketing workflows
- Create more personalized customer experiences
- Measure and optimize your campaigns in real-time

Ready to learn more? Check out our comprehensive guide here: [LINK]

Best regards,
The Marketing Team`,

	"ad": `[Headline] Revolutionize Your Marketing with {topic}

[Body] Discover how leading companies are using {topic} to drive better results with less effort. Get our free guide today!

[CTA] Download Now`,
}

func renderTemplate(contentType, topic, audience string) string {
	tpl, ok := contentTemplates[contentType]
	if !ok {
		tpl = contentTemplates["blog"]
	}
	out := strings.ReplaceAll(tpl, "{topic}", topic)
	out = strings.ReplaceAll(out, "{audience}", audience)
	out = strings.ReplaceAll(out, "{hashtag}", strings.ReplaceAll(topic, " ", ""))
	return strings.TrimSpace(out)
}

// ContentGenerationTool produces blog, social, email, and ad copy. With an
// LLM provider wired it prompts the model and accounts tokens on the
// collector; without one it renders the built-in templates.
type ContentGenerationTool struct {
	provider  llm.Provider
	model     string
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewContentGenerationTool creates the generation tool. provider may be nil;
// model defaults to gpt-4o-mini.
func NewContentGenerationTool(provider llm.Provider, model string, collector *metrics.Collector, logger *zap.Logger) *ContentGenerationTool {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentGenerationTool{provider: provider, model: model, collector: collector, logger: logger}
}

// Name implements Tool.
func (t *ContentGenerationTool) Name() string { return "content_generation" }

// Execute generates copy for params: content_type (blog|social|email|ad,
// default blog), topic, target_audience, tone, length, keywords. Provider
// errors are returned to the caller so the enclosing node can retry; the
// node-level fallback renders templates instead.
func (t *ContentGenerationTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	contentType := paramString(params, "content_type", "blog")
	topic := paramString(params, "topic", "marketing automation")
	audience := paramString(params, "target_audience", "general")
	tone := paramString(params, "tone", "professional")
	length := paramString(params, "length", "medium")

	var content string
	if t.provider == nil {
		content = renderTemplate(contentType, topic, audience)
	} else {
		generated, err := t.complete(ctx, contentType, topic, audience, tone, length, paramStringSlice(params, "keywords"))
		if err != nil {
			return nil, fmt.Errorf("generate %s content: %w", contentType, err)
		}
		content = generated
	}

	return map[string]any{
		"content_type":      contentType,
		"topic":             topic,
		"target_audience":   audience,
		"tone":              tone,
		"length":            length,
		"generated_content": content,
	}, nil
}

func (t *ContentGenerationTool) complete(ctx context.Context, contentType, topic, audience, tone, length string, keywords []string) (string, error) {
	prompt := fmt.Sprintf(
		"Write %s marketing copy in a %s tone about %q for %s. Target length: %s.",
		contentType, tone, topic, audience, length,
	)
	if len(keywords) > 0 {
		prompt += " Work in these keywords naturally: " + strings.Join(keywords, ", ") + "."
	}
	req := &llm.ChatRequest{
		Model: t.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a marketing copywriter. Produce the requested copy only, no commentary."},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokensFor(length),
	}

	started := time.Now()
	resp, err := t.provider.Completion(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		t.recordLLM("error", elapsed, llm.CountMessages(t.model, req.Messages), 0)
		return "", err
	}

	text := resp.Text()
	promptTokens, completionTokens := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = llm.CountMessages(t.model, req.Messages)
		completionTokens = llm.CountTokens(t.model, text)
	}
	t.recordLLM("ok", elapsed, promptTokens, completionTokens)
	return strings.TrimSpace(text), nil
}

// fallbackResult renders the template set after the provider path has been
// exhausted, so content runs complete offline. Wired as the generation
// node's fallback.
func (t *ContentGenerationTool) fallbackResult(params map[string]any, cause error) map[string]any {
	contentType := paramString(params, "content_type", "blog")
	topic := paramString(params, "topic", "marketing automation")
	audience := paramString(params, "target_audience", "general")
	t.logger.Warn("content generation degraded to templates",
		zap.String("content_type", contentType),
		zap.String("topic", topic),
		zap.Error(cause))
	return map[string]any{
		"content_type":      contentType,
		"topic":             topic,
		"target_audience":   audience,
		"tone":              paramString(params, "tone", "professional"),
		"length":            paramString(params, "length", "medium"),
		"generated_content": renderTemplate(contentType, topic, audience),
	}
}

func (t *ContentGenerationTool) recordLLM(status string, elapsed time.Duration, promptTokens, completionTokens int) {
	if t.collector == nil || t.provider == nil {
		return
	}
	t.collector.RecordLLMRequest(t.provider.Name(), t.model, status, elapsed, promptTokens, completionTokens)
}

func maxTokensFor(length string) int {
	switch length {
	case "short":
		return 300
	case "long":
		return 1400
	default:
		return 700
	}
}

// ============================================================
// Content optimization
// ============================================================

// ContentOptimizationTool scores content and produces SEO and readability
// recommendations. Scoring is deterministic over the content and keywords.
type ContentOptimizationTool struct {
	logger *zap.Logger
}

// NewContentOptimizationTool creates the optimization tool.
func NewContentOptimizationTool(logger *zap.Logger) *ContentOptimizationTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentOptimizationTool{logger: logger}
}

// Name implements Tool.
func (t *ContentOptimizationTool) Name() string { return "content_optimization" }

// Execute analyzes params: content, optimization_type (seo|readability|all,
// default all), target_keywords (default marketing/strategy/automation).
func (t *ContentOptimizationTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	content := paramString(params, "content", "")
	optimizationType := paramString(params, "optimization_type", "all")
	keywords := paramStringSlice(params, "target_keywords")
	if len(keywords) == 0 {
		keywords = []string{"marketing", "strategy", "automation"}
	}

	stats := analyzeReadability(content)
	score := optimizationScore(content, keywords, stats)

	kw0 := keywords[0]
	kw1 := kw0
	if len(keywords) > 1 {
		kw1 = keywords[1]
	}
	seo := map[string]any{
		"keyword_density":   fmt.Sprintf("Increase usage of '%s' from 0.5%% to 1-2%%", kw0),
		"meta_description":  fmt.Sprintf("Add a meta description including '%s' and '%s'", kw0, kw1),
		"heading_structure": "Add more H2 and H3 headings with keywords",
		"internal_linking":  "Add 2-3 internal links to related content",
	}
	readability := map[string]any{
		"score":              stats.label(),
		"grade_level":        "10th grade",
		"avg_sentence_words": math.Round(stats.avgSentenceWords*10) / 10,
		"suggestions": []string{
			"Use shorter paragraphs for better readability",
			"Add bullet points to break up dense information",
			"Simplify some complex sentences",
		},
	}

	result := map[string]any{
		"original_content_preview":  preview(content, 100),
		"optimized_content_preview": preview(content, 100),
		"optimization_score":        score,
	}
	var recommendations []string
	if optimizationType == "all" || optimizationType == "seo" {
		result["seo_recommendations"] = seo
		for _, key := range []string{"keyword_density", "meta_description", "heading_structure", "internal_linking"} {
			recommendations = append(recommendations, seo[key].(string))
		}
	}
	if optimizationType == "all" || optimizationType == "readability" {
		result["readability_recommendations"] = readability
		recommendations = append(recommendations, readability["suggestions"].([]string)...)
	}
	result["recommendations"] = recommendations
	return result, nil
}

type readabilityStats struct {
	words            int
	sentences        int
	avgSentenceWords float64
	hasHeadings      bool
}

func (r readabilityStats) label() string {
	switch {
	case r.sentences == 0:
		return "Unknown"
	case r.avgSentenceWords <= 20:
		return "Good"
	case r.avgSentenceWords <= 30:
		return "Fair"
	default:
		return "Needs work"
	}
}

// analyzeReadability strips markup from the content and computes sentence
// statistics. The tokenizer passes plain text and markdown through as text
// tokens, so both HTML and markdown inputs work.
func analyzeReadability(content string) readabilityStats {
	var stats readabilityStats
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			stats.hasHeadings = true
			break
		}
	}
	if !stats.hasHeadings && strings.Contains(strings.ToLower(content), "<h") {
		stats.hasHeadings = true
	}

	var text strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			text.Write(z.Text())
			text.WriteByte(' ')
		}
	}
	plain := strings.NewReplacer("#", " ", "*", " ").Replace(text.String())

	for _, sentence := range strings.FieldsFunc(plain, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		n := len(strings.Fields(sentence))
		if n == 0 {
			continue
		}
		stats.sentences++
		stats.words += n
	}
	if stats.sentences > 0 {
		stats.avgSentenceWords = float64(stats.words) / float64(stats.sentences)
	}
	return stats
}

// optimizationScore starts at 75 and adjusts for keyword coverage (+2 each,
// capped at +10), sentence length (+5 when the average is at most 20 words,
// -5 above 30), and heading structure (+5), clamped to [65, 95].
func optimizationScore(content string, keywords []string, stats readabilityStats) int {
	score := 75
	lower := strings.ToLower(content)
	bonus := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			bonus += 2
		}
	}
	if bonus > 10 {
		bonus = 10
	}
	score += bonus
	if stats.sentences > 0 {
		if stats.avgSentenceWords <= 20 {
			score += 5
		} else if stats.avgSentenceWords > 30 {
			score -= 5
		}
	}
	if stats.hasHeadings {
		score += 5
	}
	if score < 65 {
		score = 65
	}
	if score > 95 {
		score = 95
	}
	return score
}

// ============================================================
// Content distribution
// ============================================================

// ContentDistributionTool publishes adapted content to channels with
// per-channel status, URL, and a deterministic audience-reach figure.
type ContentDistributionTool struct {
	logger *zap.Logger
}

// NewContentDistributionTool creates the distribution tool.
func NewContentDistributionTool(logger *zap.Logger) *ContentDistributionTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentDistributionTool{logger: logger}
}

// Name implements Tool.
func (t *ContentDistributionTool) Name() string { return "content_distribution" }

// Execute distributes for params: channels (required), scheduling
// (immediate|scheduled, default immediate), content_id.
func (t *ContentDistributionTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	channels := paramStringSlice(params, "channels")
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one distribution channel is required")
	}
	scheduling := paramString(params, "scheduling", "immediate")
	contentID := paramString(params, "content_id", "content-123")

	status := "scheduled"
	if scheduling == "immediate" {
		status = "published"
	}

	channelResults := make(map[string]any, len(channels))
	for _, channel := range channels {
		channelResults[channel] = map[string]any{
			"status":         status,
			"url":            fmt.Sprintf("https://%s.example.com/%s", channel, contentID),
			"audience_reach": hashRange(1000, 10000, channel, contentID),
		}
	}

	t.logger.Debug("content distributed",
		zap.Strings("channels", channels),
		zap.String("scheduling", scheduling))
	return map[string]any{
		"distribution_status": "success",
		"channels":            channelResults,
		"channel_order":       channels,
		"scheduling":          scheduling,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// ============================================================
// Content analytics
// ============================================================

// ContentAnalyticsTool reports aggregated and per-channel performance
// metrics with insights and recommendations. When an analytics sink is
// wired, one snapshot per channel plus an aggregate snapshot are persisted.
type ContentAnalyticsTool struct {
	sink   analytics.Store
	logger *zap.Logger
}

// NewContentAnalyticsTool creates the analytics tool. sink may be nil.
func NewContentAnalyticsTool(sink analytics.Store, logger *zap.Logger) *ContentAnalyticsTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentAnalyticsTool{sink: sink, logger: logger}
}

// Name implements Tool.
func (t *ContentAnalyticsTool) Name() string { return "content_analytics" }

// Execute analyzes for params: content_id (default all), channels (default
// website/email/social_media), metrics (default views/engagement/conversion),
// time_period (default last_week), run_id.
func (t *ContentAnalyticsTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	contentID := paramString(params, "content_id", "all")
	channels := paramStringSlice(params, "channels")
	if len(channels) == 0 {
		channels = []string{"website", "email", "social_media"}
	}
	metricNames := paramStringSlice(params, "metrics")
	if len(metricNames) == 0 {
		metricNames = []string{"views", "engagement", "conversion"}
	}
	timePeriod := paramString(params, "time_period", "last_week")
	runID := paramString(params, "run_id", "")

	aggregated := map[string]any{
		"total_views":             hashRange(5000, 50000, contentID, timePeriod, "views"),
		"total_engagement":        hashRange(500, 5000, contentID, timePeriod, "engagement"),
		"average_conversion_rate": hashFloat(1.5, 8.5, contentID, timePeriod, "conversion"),
	}

	channelMetrics := make(map[string]any, len(channels))
	for _, channel := range channels {
		channelMetrics[channel] = map[string]any{
			"views": hashRange(1000, 10000, contentID, channel, "views"),
			"engagement": map[string]any{
				"likes":    hashRange(100, 1000, contentID, channel, "likes"),
				"shares":   hashRange(50, 500, contentID, channel, "shares"),
				"comments": hashRange(10, 100, contentID, channel, "comments"),
			},
			"conversion": map[string]any{
				"rate":  hashFloat(1.0, 10.0, contentID, channel, "rate"),
				"count": hashRange(10, 200, contentID, channel, "count"),
			},
		}
	}

	insights := []string{
		"Social media engagement is 35% higher than the industry average",
		"Email click-through rate has increased by 12% compared to previous campaigns",
		"Website content has a 3.5% conversion rate, which is strong for the industry",
	}
	result := map[string]any{
		"content_id":         contentID,
		"time_period":        timePeriod,
		"aggregated_metrics": aggregated,
		"channel_metrics":    channelMetrics,
		"insights":           insights,
		"recommendations": []string{
			"Increase posting frequency on social media to capitalize on high engagement",
			"A/B test different email subject lines to further improve open rates",
			"Add more prominent CTAs to website content to boost conversion rates",
		},
	}

	t.persistSnapshots(ctx, runID, contentID, channels, channelMetrics, aggregated, insights)
	return result, nil
}

// persistSnapshots writes per-channel and aggregate snapshots through the
// sink. Sink failures degrade to warnings; reporting never fails an
// analytics run.
func (t *ContentAnalyticsTool) persistSnapshots(ctx context.Context, runID, contentID string, channels []string, channelMetrics map[string]any, aggregated map[string]any, insights []string) {
	if t.sink == nil {
		return
	}
	ordered := append([]string(nil), channels...)
	sort.Strings(ordered)
	for _, channel := range ordered {
		m, _ := channelMetrics[channel].(map[string]any)
		snap := &analytics.Snapshot{
			RunID:     runID,
			ContentID: contentID,
			Channel:   channel,
			Metrics:   flattenChannelMetrics(m),
		}
		if err := t.sink.SaveSnapshot(ctx, snap); err != nil {
			t.logger.Warn("analytics snapshot save failed",
				zap.String("channel", channel), zap.Error(err))
		}
	}
	agg := &analytics.Snapshot{
		RunID:     runID,
		ContentID: contentID,
		Channel:   "all",
		Metrics: map[string]float64{
			"total_views":             float64(toInt(aggregated["total_views"])),
			"total_engagement":        float64(toInt(aggregated["total_engagement"])),
			"average_conversion_rate": toFloat(aggregated["average_conversion_rate"]),
		},
		Insights: insights,
	}
	if err := t.sink.SaveSnapshot(ctx, agg); err != nil {
		t.logger.Warn("aggregate analytics snapshot save failed", zap.Error(err))
	}
}

func flattenChannelMetrics(m map[string]any) map[string]float64 {
	out := make(map[string]float64, 6)
	if m == nil {
		return out
	}
	out["views"] = float64(toInt(m["views"]))
	if eng, ok := m["engagement"].(map[string]any); ok {
		out["likes"] = float64(toInt(eng["likes"]))
		out["shares"] = float64(toInt(eng["shares"]))
		out["comments"] = float64(toInt(eng["comments"]))
	}
	if conv, ok := m["conversion"].(map[string]any); ok {
		out["conversion_rate"] = toFloat(conv["rate"])
		out["conversion_count"] = float64(toInt(conv["count"]))
	}
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
