// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
Package types 提供 Gatekeeper 检索核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm/embedding、rag、
config 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - 错误码分为两组：嵌入服务商错误（UPSTREAM_ERROR、RATE_LIMIT 等）
    与存储错误（STORE_UNAVAILABLE、NATIVE_SEARCH_UNSUPPORTED 等）

# 主要能力

  - 错误构造：NewError / Errorf + WithCause / WithProvider 等链式方法
  - 错误判断：AsError / IsErrorCode / IsRetryable / GetErrorCode（支持 %w 包装链）
*/
package types
