// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的关系型数据库接入与连接池管理。

# 概述

Open 按 config.DatabaseConfig 的驱动名（postgres、mysql、sqlite）选择
GORM 方言并建立连接，返回的 PoolManager 统一管理连接生命周期。
向量存储的 SQL 后端（rag.SQLVectorStore）使用这里打开的连接。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()；后台健康检查定时探活并上报连接数指标。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - TransactionFunc：事务回调。

# 主要能力

  - 事务：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败、连接中断等错误指数退避重试。
  - 指标：WithMetrics 绑定 metrics.Collector 后，健康检查上报
    db_connections_open / db_connections_idle。
*/
package database
