// 营销流程输入用的测试夹具。
//
// 每次调用返回新的 map，测试可以随意修改而互不影响。
package fixtures

// --- 流程输入夹具 ---

// CreationInputs 返回内容创作流程的典型输入
func CreationInputs() map[string]any {
	return map[string]any{
		"topic":           "AI-powered marketing automation",
		"content_type":    "blog",
		"target_audience": "startup founders",
		"content_id":      "fixture-content-001",
	}
}

// DistributionInputs 返回分发流程的典型输入，已包含生成好的内容
func DistributionInputs() map[string]any {
	return map[string]any{
		"generated_content": "MarketFlow turns one idea into channel-ready copy in minutes.",
		"content_type":      "blog",
		"content_id":        "fixture-content-001",
	}
}

// AnalyticsInputs 返回分析流程的典型输入，已包含分发结果
func AnalyticsInputs() map[string]any {
	return map[string]any{
		"content_id": "fixture-content-001",
		"distribution_results": map[string]any{
			"channels": map[string]any{
				"website": map[string]any{"status": "published", "url": "https://example.com/website/fixture-content-001"},
				"email":   map[string]any{"status": "published", "url": "https://example.com/email/fixture-content-001"},
			},
			"channel_order": []string{"website", "email"},
		},
		"distribution_completed": true,
	}
}

// EndToEndInputs 返回端到端流程的典型输入
func EndToEndInputs() map[string]any {
	return map[string]any{
		"topic":           "product launch announcement",
		"content_type":    "email",
		"target_audience": "existing customers",
		"content_id":      "fixture-content-002",
	}
}

// GTMInputs 返回 GTM 策略流程的典型输入，
// focus 取 "channels" 或 "messaging" 控制分支走向
func GTMInputs(focus string) map[string]any {
	return map[string]any{
		"product_name":    "MarketFlow",
		"target_market":   "B2B SaaS marketing teams",
		"strategy_focus":  focus,
		"target_audience": "heads of growth",
	}
}
