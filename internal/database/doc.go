// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供数据库连接与连接池管理能力。

# 概述

本包按配置打开 GORM 数据库连接（postgres、mysql、sqlite），
并通过 PoolManager 管理底层 sql.DB 连接池：空闲/打开连接上限、
连接生命周期、后台健康检查与连接统计上报。

# 核心类型

  - PoolManager：连接池管理器，提供 DB、Ping、Stats、Close
    与事务辅助方法。
  - PoolConfig：连接池参数，含可选的 OnStats 统计回调。

# 主要能力

  - 按驱动打开连接：Open / OpenPool。
  - 事务执行：WithTransaction 与带指数退避的 WithTransactionRetry，
    死锁、序列化失败与连接类错误视为可重试。
  - 后台健康检查：按固定间隔 Ping 并上报连接统计。
*/
package database
