// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 MarketFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 api、cmd 等上层模块
提供统一的错误体系与请求上下文契约。所有跨包共享的错误码和
context 传播键均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRunID / WithRoles
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewError / NewNotFoundError，链式 WithCause / WithHTTPStatus
*/
package types
