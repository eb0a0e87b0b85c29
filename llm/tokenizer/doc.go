// Package tokenizer 提供嵌入输入的 token 计数与截断,
// 支持 tiktoken 精确计数与 CJK 感知的估算器.
package tokenizer
