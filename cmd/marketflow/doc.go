// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 MarketFlow 服务端程序入口。

# 概述

cmd/marketflow 是 MarketFlow 引擎的可执行入口，提供 HTTP API 服务、
一次性工作流执行、离线演示、数据库迁移、健康检查和版本查询等子命令。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集
以及 OpenTelemetry 链路追踪。

# 核心类型

  - Server — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭

# 主要能力

  - 子命令：serve（启动服务）、run（一次性执行工作流，JSON 结果输出）、
    demo（离线端到端演示）、migrate（数据库迁移）、version、health
  - 存储装配：GORM 连接池 + 内容仓库、Redis 缓存、分析快照存储
    （memory / mongo / sqlite 三种后端，连接失败时降级到内存实现）
  - LLM Provider：按配置选择 openai 或内置 mock
  - 事件流：EventHub 经 WithObserverFactory 挂入编排器，节点级事件
    通过 /v1/events WebSocket 推送
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 后台循环：连接池指标上报、分析快照按保留时长清理
  - 优雅关闭：信号监听 → 停止循环 → 关闭 HTTP → 关闭 Metrics →
    关闭 API 服务器与存储 → 关闭遥测 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
