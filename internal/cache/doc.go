// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的结果缓存能力，支持连接池、健康检查、
键前缀隔离与 JSON 序列化。

# 概述

本包封装 go-redis 客户端为 Manager，为调研等幂等工具提供结果
缓存。所有键经统一前缀隔离，避免与同一 Redis 实例上的其他
应用冲突。未命中返回 ErrCacheMiss 哨兵错误，可用 IsCacheMiss
判断。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与配置，
    提供 Get/Set、GetJSON/SetJSON、Delete、Exists 等操作。
  - Config：连接地址、密码、连接池大小、默认 TTL 与键前缀。

# 主要能力

  - 字符串读写：Get/Set，TTL 为零时使用配置的默认 TTL。
  - JSON 读写：GetJSON/SetJSON，自动序列化与反序列化。
  - 后台健康检查：按固定间隔 Ping，失败时记录告警日志。
*/
package cache
