// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 analytics 提供内容效果快照的可插拔存储，分析流程采集到的
各渠道指标与洞察经由编排器落入此处。

# 概述

每条 Snapshot 对应一次采集：某条内容在某个渠道的指标集合
（views/engagement/conversion 等），Channel 为 "all" 时表示跨渠道
汇总，汇总快照同时携带洞察文本。存储后端通过配置选择，接口统一。

# 核心类型

  - Snapshot：快照模型，ID 为 UUID，CollectedAt 统一 UTC。
  - Store：存储接口（SaveSnapshot/ListSnapshots/Purge/Close）。
  - MemoryStore：进程内实现，默认后端，测试友好。
  - SQLiteStore：database/sql + 纯 Go SQLite 驱动的单文件实现。
  - MongoStore：mongo-driver v2 文档实现，含索引保障与操作超时。

# 主要能力

  - Open 工厂按 AnalyticsConfig.Backend（memory/sqlite/mongo）创建后端。
  - Purge 支持按保留时长清理历史快照，配合 retention 配置定时执行。
  - 各实现对 ListSnapshots 保证按采集时间升序返回。
*/
package analytics
