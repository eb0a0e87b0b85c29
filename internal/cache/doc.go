// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的共享缓存, 供多个检索实例共享相似度搜索结果.

# 核心类型

  - Manager: 持有 go-redis 客户端, 提供 Get/Set/GetJSON/SetJSON/Delete,
    所有键自动加上 KeyPrefix.
  - Config: 地址、连接池、默认 TTL 与健康检查间隔. ConfigFromRedis
    由应用配置构造.
  - Stats: 键数量与连接池统计.

未命中统一返回 ErrCacheMiss, 使用 IsCacheMiss 判断.
*/
package cache
