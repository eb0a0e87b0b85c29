package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer 是嵌入输入预算使用的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Encode 将文本转换为 token ID 列表.
	Encode(text string) ([]int, error)

	// Decode 将 token ID 转换回文本.
	Decode(tokens []int) (string, error)

	// MaxTokens 返回模型的最大输入长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 为嵌入模型选择分词器: OpenAI 系列使用 tiktoken, 其它模型使用估算器.
func ForModel(model string) Tokenizer {
	if strings.HasPrefix(model, "text-embedding-") {
		if t, err := NewTiktokenTokenizer(model); err == nil {
			return t
		}
	}
	return NewEstimatorTokenizer(model, 0)
}

// Truncate 将 text 截断到至多 maxTokens 个 token.
// 返回截断后的文本以及是否发生了截断.
// 分词器无法解码时按 token/字符比例估算截断位置.
func Truncate(t Tokenizer, text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || text == "" {
		return text, false
	}

	tokens, err := t.Encode(text)
	if err == nil && len(tokens) <= maxTokens {
		return text, false
	}

	if err == nil {
		if decoded, derr := t.Decode(tokens[:maxTokens]); derr == nil {
			return decoded, true
		}
	}

	count, cerr := t.CountTokens(text)
	if cerr != nil || count <= maxTokens {
		return text, false
	}
	runes := utf8.RuneCountInString(text)
	keep := runes * maxTokens / count
	return TruncateRunes(text, keep), true
}

// TruncateRunes 按字符数截断, 不会切断多字节字符.
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}
