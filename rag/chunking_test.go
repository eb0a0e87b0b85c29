package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPunctuationSplitter(t *testing.T) {
	s := PunctuationSplitter{}

	assert.Equal(t,
		[]string{"CT-e 12345 from Santos to Hamburg.", "Value R$1.000.", "Delivered on time!"},
		s.Split("CT-e 12345 from Santos to Hamburg. Value R$1.000. Delivered on time!"))

	assert.Equal(t, []string{"货物已到港。", "清关中！", "预计明天送达？"},
		s.Split("货物已到港。清关中！预计明天送达？"))

	assert.Equal(t, []string{"line one", "line two"}, s.Split("line one\nline two"))
	assert.Empty(t, s.Split("   "))
}

func TestClampChunkSize(t *testing.T) {
	assert.Equal(t, 1500, ClampChunkSize(0))
	assert.Equal(t, 400, ClampChunkSize(10))
	assert.Equal(t, 4000, ClampChunkSize(9000))
	assert.Equal(t, 800, ClampChunkSize(800))
}

func TestClampOverlap(t *testing.T) {
	assert.Equal(t, 0, ClampOverlap(-5, 1000))
	assert.Equal(t, 500, ClampOverlap(900, 1000))
	assert.Equal(t, 200, ClampOverlap(200, 1000))
}

func TestSentenceChunker_EmptyInput(t *testing.T) {
	c := NewSentenceChunker(nil)
	assert.Empty(t, c.Split("", 1500, 200))
	assert.Empty(t, c.Split(" \n\t ", 1500, 200))
	assert.NotNil(t, c.Split("", 1500, 200))
}

func TestSentenceChunker_ShortInputSingleChunk(t *testing.T) {
	c := NewSentenceChunker(nil)
	text := "  CT-e 12345 from Santos to Hamburg. Value R$1000. Delivered on time.  "

	chunks := c.Split(text, 1500, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(text), chunks[0])
}

func TestSentenceChunker_GreedyWithOverlap(t *testing.T) {
	c := NewSentenceChunker(nil)
	sentence := strings.Repeat("a", 190) + "."
	text := strings.Repeat(sentence+" ", 10)

	chunks := c.Split(text, 400, 50)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 400)
	}
	// 第二块以第一块末尾的重叠内容开头
	first := []rune(chunks[0])
	seed := strings.TrimSpace(string(first[len(first)-50:]))
	assert.True(t, strings.HasPrefix(chunks[1], seed))
}

func TestSentenceChunker_HardSplitsLongSentence(t *testing.T) {
	c := NewSentenceChunker(nil)
	long := strings.Repeat("x", 1000)

	chunks := c.Split(long, 400, 0)
	require.Len(t, chunks, 3)
	assert.Equal(t, 400, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 400, utf8.RuneCountInString(chunks[1]))
	assert.Equal(t, 200, utf8.RuneCountInString(chunks[2]))
}

func TestSentenceChunker_MultibyteLengths(t *testing.T) {
	c := NewSentenceChunker(nil)
	text := strings.Repeat("集装箱已在桑托斯港装船。", 100)

	for _, ch := range c.Split(text, 400, 100) {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 400)
		assert.True(t, utf8.ValidString(ch))
	}
}

func TestSentenceChunker_DropsConsecutiveDuplicates(t *testing.T) {
	c := NewSentenceChunker(nil)
	long := strings.Repeat("y", 400)
	// 两个相同的满长句子各自成块, 相邻重复只保留一个
	text := long + "\n" + long

	chunks := c.Split(text, 400, 0)
	assert.Equal(t, []string{long}, chunks)
}

type fixedSplitter struct{}

func (fixedSplitter) Split(text string) []string { return strings.Split(text, "|") }

func TestSentenceChunker_CustomSplitter(t *testing.T) {
	c := NewSentenceChunker(fixedSplitter{})
	b := strings.Repeat("b", 300)
	d := strings.Repeat("d", 300)

	chunks := c.Split(b+"|"+d, 400, 0)
	assert.Equal(t, []string{b, d}, chunks)
}

// 句子生成器: 由小写单词组成并以句号结尾
func sentenceGen(rt *rapid.T, label string) string {
	words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,12}`), 1, 40).Draw(rt, label)
	return strings.Join(words, " ") + "."
}

// 任意输入: 不超过 chunkSize 的句子必须完整出现在某个分块中, 且每块不超过 chunkSize
func TestProperty_ChunkerCoverage(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(rt, "sentences")
		sentences := make([]string, n)
		for i := range sentences {
			sentences[i] = sentenceGen(rt, "words")
		}
		size := rapid.IntRange(400, 1200).Draw(rt, "chunkSize")
		overlap := rapid.IntRange(0, size/2).Draw(rt, "overlap")

		chunks := NewSentenceChunker(nil).Split(strings.Join(sentences, " "), size, overlap)
		require.NotEmpty(rt, chunks)

		for _, ch := range chunks {
			require.LessOrEqual(rt, utf8.RuneCountInString(ch), size)
		}
		for _, s := range sentences {
			if utf8.RuneCountInString(s) > size {
				continue // 超长句子被硬切分
			}
			found := false
			for _, ch := range chunks {
				if strings.Contains(ch, s) {
					found = true
					break
				}
			}
			require.True(rt, found, "sentence missing from chunks: %q", s)
		}
		for i := 1; i < len(chunks); i++ {
			require.NotEqual(rt, chunks[i-1], chunks[i])
		}
	})
}

func TestProperty_ChunkSizeBoundWithLongRuns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("no chunk exceeds the clamped size", prop.ForAll(
		func(runLen int, repeats int, size int) bool {
			text := strings.Repeat(strings.Repeat("z", runLen)+". ", repeats)
			limit := ClampChunkSize(size)
			for _, ch := range NewSentenceChunker(nil).Split(text, size, limit/4) {
				if utf8.RuneCountInString(ch) > limit {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 8),
		gen.IntRange(0, 6000),
	))

	properties.TestingRun(t)
}
