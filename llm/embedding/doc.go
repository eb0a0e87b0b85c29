// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
包 embedding 提供统一的文本嵌入接口、多服务商实现与带缓存的降级调用链，
用于为文档分块、订单事件与检索查询生成向量。

# 核心接口

  - Provider：统一嵌入接口，定义 Embed、EmbedQuery、EmbedDocuments 等方法。
  - Availability：可选接口，提供者据此声明自身是否可用（如缺少 API Key）。
  - BaseProvider：公共基类，封装 HTTP 请求、错误映射与批量辅助方法。
  - Chain：按偏好顺序尝试提供者的调用链，失败时返回 nil 而非错误。

# 主要能力

  - 多服务商支持：本地 Ollama 风格服务、OpenAI、Google Gemini。
  - 降级：单次调用有超时，失败、超时或空结果时记录日志并尝试下一个提供者。
  - 缓存：进程内 LRU，键为 SHA-256(提供者 + 规范化文本)，
    并发的相同未命中通过 singleflight 合并。
  - 输入截断：按 token（tiktoken/估算器）或字符预算截断。
  - 批量生成：顺序执行并通过 rate.Limiter 限速。

# 使用方式

	providers, _ := embedding.ProvidersFromConfig(cfg.Embedding)
	chain := embedding.NewChain(providers, embedding.ChainConfigFromConfig(cfg.Embedding), logger)

	vec, model := chain.GenerateEmbedding(ctx, "集装箱在桑托斯港延误")
	if vec == nil {
		// 无可用提供者, 调用方降级处理
	}
*/
package embedding
