package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/gatekeeper/config"
)

// 分块默认值（字符）
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// SentenceSplitter 句子切分器接口, 可替换为语言感知的实现.
type SentenceSplitter interface {
	Split(text string) []string
}

// PunctuationSplitter 按 . ! ? 与中日文句末标点切分句子, 换行同样视为边界.
//
// ASCII 标点仅在其后为空白或文本结尾时切分, 避免拆开 "1.5" 或 "R$1.000".
type PunctuationSplitter struct{}

// Split 切分句子, 返回去除首尾空白后的非空句子.
func (PunctuationSplitter) Split(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i, r := range runes {
		switch r {
		case '。', '！', '？', '\n':
			emit(i + 1)
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return sentences
}

// SentenceChunker 以句子为单位贪心聚合分块, 相邻块之间带有重叠.
type SentenceChunker struct {
	splitter SentenceSplitter
}

// NewSentenceChunker 创建分块器, splitter 为 nil 时使用 PunctuationSplitter.
func NewSentenceChunker(splitter SentenceSplitter) *SentenceChunker {
	if splitter == nil {
		splitter = PunctuationSplitter{}
	}
	return &SentenceChunker{splitter: splitter}
}

// ClampChunkSize 将分块大小限制在 [MinChunkSize, MaxChunkSize], 0 或负数取默认值.
func ClampChunkSize(size int) int {
	switch {
	case size <= 0:
		return DefaultChunkSize
	case size < config.MinChunkSize:
		return config.MinChunkSize
	case size > config.MaxChunkSize:
		return config.MaxChunkSize
	}
	return size
}

// ClampOverlap 将重叠限制在 [0, chunkSize/2].
func ClampOverlap(overlap, chunkSize int) int {
	if overlap < 0 {
		return 0
	}
	if overlap > chunkSize/2 {
		return chunkSize / 2
	}
	return overlap
}

// Split 将文本切分为有序的分块.
//
// 长度按字符 (rune) 计算. 每块不超过 chunkSize; 超长的单个句子按 chunkSize 硬切分.
// 关闭一块后, 下一块以上一块末尾 overlap 个字符开头; 若种子加下一句会超限则丢弃种子.
func (c *SentenceChunker) Split(text string, chunkSize, overlap int) []string {
	size := ClampChunkSize(chunkSize)
	ov := ClampOverlap(overlap, size)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{}
	}
	if utf8.RuneCountInString(trimmed) <= size {
		return []string{trimmed}
	}

	var (
		chunks []string
		buf    []rune
		fresh  bool // buf 中是否含有种子之外的新句子
	)

	closeChunk := func() {
		if fresh {
			if s := strings.TrimSpace(string(buf)); s != "" {
				chunks = append(chunks, s)
			}
		}
		buf = nil
		fresh = false
	}

	for _, sentence := range c.splitter.Split(trimmed) {
		sr := []rune(sentence)

		if len(sr) > size {
			closeChunk()
			pieces := hardSplit(sr, size)
			chunks = append(chunks, pieces...)
			if len(pieces) > 0 {
				buf = tail([]rune(pieces[len(pieces)-1]), ov)
			}
			continue
		}

		if len(buf) > 0 && len(buf)+1+len(sr) > size {
			if fresh {
				closed := []rune(strings.TrimSpace(string(buf)))
				closeChunk()
				buf = tail(closed, ov)
			}
			if len(buf)+1+len(sr) > size {
				buf = nil
			}
		}

		if len(buf) > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, sr...)
		fresh = true
	}
	closeChunk()

	return dedupConsecutive(chunks)
}

// hardSplit 按 size 个字符切分超长句子.
func hardSplit(runes []rune, size int) []string {
	var pieces []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			pieces = append(pieces, s)
		}
	}
	return pieces
}

// tail 返回末尾 n 个字符 (去除首部空白).
func tail(runes []rune, n int) []rune {
	if n <= 0 {
		return nil
	}
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	out := []rune(strings.TrimLeftFunc(string(runes), unicode.IsSpace))
	return out
}

func dedupConsecutive(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(out) > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	return out
}
