// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 api 提供工作流引擎的 HTTP 服务层：REST 路由、中间件链、
异步运行池与 WebSocket 事件流。

# 概述

Server 把 marketing.Orchestrator 暴露为版本化的 HTTP API。
同步运行在请求协程上执行并返回完整运行记录；异步运行
（?async=true）提交到有界工作池，立即返回 202 回执，之后通过
GET /v1/runs/{id} 轮询或订阅 GET /v1/events 的 WebSocket 事件流
跟踪进度。

# 路由

  - GET  /healthz, /health      存活探针
  - GET  /readyz, /ready        就绪检查（数据库、Redis 等）
  - GET  /version               构建信息
  - GET  /metrics               Prometheus 指标
  - GET  /v1/flows              已注册工作流与工具
  - POST /v1/flows/{name}/runs  提交运行（同步或异步）
  - GET  /v1/runs               近期运行列表
  - GET  /v1/runs/{id}          单次运行记录
  - GET  /v1/events             WebSocket 事件流

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger 常驻；
指标、追踪、CORS、JWT 认证与限流按配置启用。限流以租户为键
（JWT 注入），无租户时退化为按 IP。

# 事件流

EventHub 将运行生命周期事件扇出给 WebSocket 订阅者，慢消费者
丢帧而不阻塞运行。hub.Observer 可通过
marketing.WithObserverFactory 接入编排器，使事件流携带节点级
别的开始、完成、重试与回退事件。

# 响应约定

所有 JSON 响应使用统一信封 Response{success, data, error,
timestamp, request_id}；错误码到 HTTP 状态码的映射见
mapErrorCodeToHTTPStatus。请求体限制 1 MB，未知字段拒绝。
*/
package api
