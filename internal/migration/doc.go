// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
包 migration 管理关系型向量存储的表结构，支持 PostgreSQL、MySQL 与
SQLite，基于 golang-migrate 实现。

# 概述

chunk_vectors 与 event_vectors 两张表的建表语句按方言内嵌在二进制中
（migrations/<dialect>/*.sql），版本号记录在 schema_migrations 表。
表结构与 rag.SQLVectorStore 的 GORM 模型保持一致，唯一索引承担
(source_document_id, chunk_id) 与 (order_id, event_id) 的幂等约束。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Status 等操作。
  - Config：数据库类型、连接串、版本表名与锁超时。
  - CLI：gatekeeper migrate 子命令的终端输出层。

# 工厂函数

NewMigratorFromDatabaseConfig 直接使用 config.DatabaseConfig；
NewMigratorFromURL 接受类型名与连接串。
*/
package migration
