// =============================================================================
// 运行与演示命令
// =============================================================================
// run:  一次性执行已注册的工作流，JSON 结果写入 stdout，日志走 stderr
// demo: 离线端到端演示，使用内置 mock provider，无需任何外部依赖
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/config"
	"github.com/BaSui01/marketflow/marketing"
	"github.com/BaSui01/marketflow/quick"
)

// =============================================================================
// 🚀 run 命令
// =============================================================================

func runRun(args []string) {
	// 第一个非选项参数是流程名
	var flowName string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		flowName = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topic := fs.String("topic", "", "Content topic")
	channels := fs.String("channels", "", "Comma-separated distribution channels")
	contentType := fs.String("content-type", "", "Content type (blog, social, email, ad)")
	audience := fs.String("audience", "", "Target audience")
	fs.Parse(args)

	if flowName == "" {
		fmt.Fprintln(os.Stderr, "Usage: marketflow run <flow> [options]")
		fmt.Fprintf(os.Stderr, "Flows: %s\n", strings.Join(knownFlows(), ", "))
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// stdout 只承载 JSON 结果
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	opts := []marketing.Option{
		marketing.WithLogger(logger),
		marketing.WithProvider(buildProvider(cfg.LLM, logger)),
	}
	if cfg.LLM.Model != "" {
		opts = append(opts, marketing.WithModel(cfg.LLM.Model))
	}
	if *channels != "" {
		opts = append(opts, marketing.WithChannels(splitList(*channels)))
	}
	if n := cfg.Engine.Concurrency; n > 0 {
		opts = append(opts, marketing.WithFanoutConcurrency(n))
	}

	orch := marketing.NewOrchestrator(opts...)
	applyEngineRetries(orch, cfg.Engine, logger)

	inputs := map[string]any{}
	if *topic != "" {
		inputs["topic"] = *topic
	}
	if *contentType != "" {
		inputs["content_type"] = *contentType
	}
	if *audience != "" {
		inputs["target_audience"] = *audience
	}

	ctx := context.Background()
	if cfg.Engine.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.RunTimeout)
		defer cancel()
	}

	res, err := orch.Run(ctx, flowName, inputs)
	if err != nil {
		logger.Fatal("Run failed", zap.String("flow", flowName), zap.Error(err))
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		logger.Fatal("Failed to encode result", zap.Error(err))
	}
	fmt.Println(string(out))
}

// =============================================================================
// 🎬 demo 命令
// =============================================================================

func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	topic := fs.String("topic", "AI-assisted marketing automation", "Demo topic")
	channels := fs.String("channels", "blog,email", "Comma-separated distribution channels")
	fs.Parse(args)

	chs := splitList(*channels)

	fmt.Println("MarketFlow demo: offline end-to-end marketing pipeline")
	fmt.Printf("Topic:    %s\n", *topic)
	fmt.Printf("Channels: %s\n\n", strings.Join(chs, ", "))

	orch, err := quick.New(
		quick.WithMock(),
		quick.WithChannels(chs...),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build orchestrator: %v\n", err)
		os.Exit(1)
	}

	res, err := orch.Run(context.Background(), marketing.FlowEndToEnd, map[string]any{
		"topic":           *topic,
		"content_type":    "blog",
		"target_audience": "growth teams",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Demo run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s finished: action=%s duration=%s\n\n",
		res.RunID, res.Action, res.Duration.Round(time.Millisecond))

	if content, ok := res.Store["generated_content"].(string); ok && content != "" {
		fmt.Println("Generated content:")
		fmt.Printf("  %s\n\n", truncate(content, 200))
	}

	if adaptations, ok := res.Store["channel_adaptations"].(map[string]any); ok && len(adaptations) > 0 {
		fmt.Println("Channel adaptations:")
		names := make([]string, 0, len(adaptations))
		for name := range adaptations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-12s %s\n", name, truncate(fmt.Sprint(adaptations[name]), 100))
		}
		fmt.Println()
	}

	if insights, ok := res.Store["analytics_insights"].([]string); ok && len(insights) > 0 {
		fmt.Println("Insights:")
		for _, insight := range insights {
			fmt.Printf("  - %s\n", insight)
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// knownFlows 返回预置流程名，按字典序
func knownFlows() []string {
	names := []string{
		marketing.FlowContentCreation,
		marketing.FlowContentDistribution,
		marketing.FlowContentAnalytics,
		marketing.FlowEndToEnd,
		marketing.FlowGTMStrategy,
	}
	sort.Strings(names)
	return names
}

// splitList 拆分逗号分隔的列表，去掉空白项
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
