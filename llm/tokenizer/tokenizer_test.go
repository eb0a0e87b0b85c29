package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorTokenizer_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("nomic-embed-text", 0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("abcd")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// CJK 字符比 ASCII 消耗更多 token
	ascii, _ := e.CountTokens(strings.Repeat("a", 30))
	cjk, _ := e.CountTokens(strings.Repeat("港", 30))
	assert.Greater(t, cjk, ascii)
	assert.Equal(t, 8192, e.MaxTokens())
}

func TestEstimatorTokenizer_DecodeUnsupported(t *testing.T) {
	_, err := NewEstimatorTokenizer("x", 10).Decode([]int{1})
	assert.Error(t, err)
}

func TestForModel(t *testing.T) {
	assert.IsType(t, &TiktokenTokenizer{}, ForModel("text-embedding-3-small"))
	assert.IsType(t, &EstimatorTokenizer{}, ForModel("nomic-embed-text"))
	assert.Equal(t, "estimator", ForModel("gemini-embedding-001").Name())
}

func TestTruncate_WithEstimator(t *testing.T) {
	e := NewEstimatorTokenizer("x", 0)
	text := strings.Repeat("a", 400) // ~100 token

	out, truncated := Truncate(e, text, 50)
	assert.True(t, truncated)
	assert.Equal(t, 200, utf8.RuneCountInString(out))

	out, truncated = Truncate(e, text, 500)
	assert.False(t, truncated)
	assert.Equal(t, text, out)
}

func TestTruncate_ZeroBudgetKeepsText(t *testing.T) {
	out, truncated := Truncate(NewEstimatorTokenizer("x", 0), "hello world", 0)
	assert.False(t, truncated)
	assert.Equal(t, "hello world", out)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "桑托斯", TruncateRunes("桑托斯港口", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}
