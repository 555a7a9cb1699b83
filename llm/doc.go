// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package llm 提供统一的 LLM Provider 抽象与 OpenAI 兼容客户端。
//
// 包含同步聊天补全接口、基于 golang.org/x/time/rate 的本地限流、
// 指数退避重试、tiktoken token 计数（离线时回退到字符估算）
// 以及用于测试与离线运行的 MockProvider。
package llm
