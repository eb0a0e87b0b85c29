// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的检索链路指标采集能力，覆盖
嵌入调用、相似度搜索、上下文检索、向量写入、缓存与数据库六个维度。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标。Record* 方法对 nil 接收者安全。

# 主要能力

  - 嵌入指标：按 provider/status 统计调用次数与耗时。
  - 搜索指标：按 strategy（native/brute_force/cache）统计次数与耗时。
  - 检索指标：上下文检索次数、耗时与返回条目数分布。
  - 存储指标：按 kind（chunk/event）统计写入与删除的记录数。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
