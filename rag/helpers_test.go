package rag

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/gatekeeper/llm/embedding"
)

// keywordEmbedder 以固定词表的词频作为向量, 结果确定且可读.
type keywordEmbedder struct {
	vocab []string
	fail  bool

	mu    sync.Mutex
	calls int
}

var testVocab = []string{
	"santos", "hamburg", "rotterdam", "container", "customs",
	"invoice", "vessel", "delay", "cargo", "port", "reefer", "temperature",
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: testVocab}
}

func (e *keywordEmbedder) vector(text string) []float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	vec := make([]float64, len(e.vocab))
	for _, w := range words {
		for i, v := range e.vocab {
			if w == v {
				vec[i]++
			}
		}
	}
	return vec
}

func (e *keywordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float64, string) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail || strings.TrimSpace(text) == "" {
		return nil, ""
	}
	return e.vector(text), "keyword-test"
}

func (e *keywordEmbedder) GenerateEmbeddingsBatch(ctx context.Context, texts []string) []embedding.Result {
	out := make([]embedding.Result, len(texts))
	for i, t := range texts {
		v, m := e.GenerateEmbedding(ctx, t)
		out[i] = embedding.Result{Vector: v, Model: m}
	}
	return out
}

func intPtr(i int) *int { return &i }
