// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 repository 提供营销内容与分发结果的持久化层，基于 GORM 与
internal/database 连接池实现。

# 概述

内容创作流程产出的文案与端到端流程的分发结果在此落库：每条
ContentRecord 对应一次生成的营销内容（主题、类型、受众、语气、
正文与优化评分），每条 DistributionRecord 对应该内容在某个渠道
的发布结果（状态、链接与触达人数）。

# 核心类型

  - ContentRecord / DistributionRecord：GORM 模型，主键为 UUID 字符串。
  - ContentRepository：仓储入口，封装增删查与分页过滤。
  - ContentFilter：ListContent 的过滤与分页参数，零值表示不限制。
  - QueryRecorder：查询耗时上报接口，指标采集器可直接实现。
  - ErrNotFound：查询未命中时返回的哨兵错误，配合 errors.Is 判断。

# 主要能力

  - 批量分发写入走 WithTransactionRetry，瞬时故障自动重试。
  - 删除内容时在同一事务内级联清理分发记录。
  - AutoMigrate 供开发与测试环境建表；生产变更走 migration 包。
  - 可选 QueryRecorder 上报 insert/select/delete 耗时。
*/
package repository
