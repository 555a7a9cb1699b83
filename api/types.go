package api

import (
	"time"
)

// =============================================================================
// 工作流运行类型
// =============================================================================

// RunRequest 代表工作流运行请求。
// @Description 工作流运行请求结构
type RunRequest struct {
	// 种子输入，逐键写入运行存储
	Inputs map[string]any `json:"inputs,omitempty"`
}

// RunSubmission 表示异步提交回执。
// @Description 异步运行提交回执
type RunSubmission struct {
	// 运行 ID
	RunID string `json:"run_id" example:"6bd7747e-9f0d-4fcd-8ba1-6e9f708a12cd"`
	// 工作流名称
	Flow string `json:"flow" example:"content_creation"`
	// 提交状态
	Status RunStatus `json:"status" example:"pending"`
}

// RunStatus 表示运行的生命周期状态。
type RunStatus string

const (
	// RunPending 已提交，等待工作线程
	RunPending RunStatus = "pending"
	// RunRunning 正在执行
	RunRunning RunStatus = "running"
	// RunSucceeded 成功完成
	RunSucceeded RunStatus = "succeeded"
	// RunFailed 执行失败
	RunFailed RunStatus = "failed"
)

// RunRecord 表示一次运行的完整记录。
// @Description 运行记录结构
type RunRecord struct {
	// 运行 ID
	RunID string `json:"run_id" example:"6bd7747e-9f0d-4fcd-8ba1-6e9f708a12cd"`
	// 工作流名称
	Flow string `json:"flow" example:"content_creation"`
	// 生命周期状态
	Status RunStatus `json:"status" example:"succeeded"`
	// 最终动作（流程完成后）
	Action string `json:"action,omitempty" example:"default"`
	// 失败时的错误消息
	Error string `json:"error,omitempty"`
	// 最终存储快照（流程完成后）
	Store map[string]any `json:"store,omitempty"`
	// 提交时间
	SubmittedAt time.Time `json:"submitted_at"`
	// 开始执行时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// 完成时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// 执行时长
	Duration string `json:"duration,omitempty" example:"1.2s"`
}

// =============================================================================
// 列表与版本类型
// =============================================================================

// FlowListResponse 表示已注册的工作流与工具列表。
// @Description 工作流列表响应
type FlowListResponse struct {
	// 工作流名称（字典序）
	Flows []string `json:"flows"`
	// 工具名称（字典序）
	Tools []string `json:"tools"`
}

// RunListResponse 表示近期运行列表。
// @Description 运行列表响应
type RunListResponse struct {
	// 运行记录（最新在前）
	Runs []*RunRecord `json:"runs"`
}

// VersionInfo 表示构建版本信息。
// @Description 版本信息结构
type VersionInfo struct {
	// 语义化版本号
	Version string `json:"version" example:"1.0.0"`
	// 构建时间
	BuildTime string `json:"build_time,omitempty"`
	// Git 提交哈希
	GitCommit string `json:"git_commit,omitempty"`
}
