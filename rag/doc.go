// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
# 概述

Package rag 是 Gatekeeper 的语义文档检索核心：把物流文档切分为分块、
生成向量并持久化，然后为订单相关的查询找回最相关的文档片段。

# 核心接口/类型

  - VectorStore: 分块与订单事件向量的持久化接口
    (InMemoryVectorStore / MongoVectorStore / SQLVectorStore)
  - NativeSearcher: 拥有原生向量索引的后端的可选接口
  - SimilaritySearch: 结果缓存 → 原生索引 → 暴力搜索 的组合搜索
  - ResultCache: 搜索结果缓存 (MemoryResultCache / RedisResultCache)
  - Retriever: 查询 → 向量 → 搜索 → ContextItem
  - Ingestor: 文档 → 分块 → 批量嵌入 → 写入 → 清理旧尾部
  - Service: 由 config.Config 一键组装上述组件

# 主要能力

  - 分块: 按句子贪心聚合, 大小限制在 [400, 4000] 字符, 相邻块带重叠
  - 幂等写入: 同一 (文档, chunk_id) 至多一条记录, chunk_id 变化时按文本哈希去重,
    重复写入保留 created_at 并推进 updated_at
  - 相似度搜索: Mongo Atlas $vectorSearch 优先, 出错或为空时回退到有界候选池上的余弦计算
  - 尽力而为的检索: 任何下游失败都降级为空结果, 不影响调用方

# 与其他包的关系

  - llm/embedding: 提供 Chain, 同时满足 Embedder 与 BatchEmbedder
  - internal/cache: RedisResultCache 的底层实现
  - internal/metrics: 写入、搜索与检索的 Prometheus 指标
*/
package rag
