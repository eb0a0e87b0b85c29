// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
Package main 提供 Gatekeeper 检索核心的命令行入口。

# 子命令

  - serve：运维端口，暴露 /metrics、/healthz、/readyz，进程内保持嵌入链与搜索组件
  - ingest：加载文件（txt/md/csv/json/jsonl），切分、批量嵌入并写入，多个文件并发处理
  - search：语义检索并打印带编号的上下文片段或 JSON
  - delete：删除文档全部分块或单个事件向量
  - event / events：登记订单事件摘要、按时间倒序列出事件
  - migrate：golang-migrate 迁移（up/down/steps/goto/force/status/info）
  - version：构建信息，Version、BuildTime、GitCommit 通过 ldflags 注入

存储选择：配置了 mongo.uri 时使用 Mongo（支持原生向量索引），
否则使用 database 配置的关系型数据库，事务走连接池的死锁重试。
*/
package main
