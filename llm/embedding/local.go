package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LocalProvider 调用本地部署的 Ollama 风格嵌入服务 (POST /api/embed).
// 本地服务无需凭据, 在调用链中作为首选的免费提供者.
type LocalProvider struct {
	*BaseProvider
	cfg LocalConfig
}

// NewLocalProvider 创建本地嵌入提供者.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}

	return &LocalProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "local",
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   64,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// Embed 生成嵌入.
func (p *LocalProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := ChooseModel(req.Model, p.cfg.Model, "nomic-embed-text")

	respBody, err := p.DoRequest(ctx, "POST", "/api/embed", localEmbedRequest{
		Model: model,
		Input: req.Input,
	}, nil)
	if err != nil {
		return nil, err
	}

	var lResp localEmbedResponse
	if err := json.Unmarshal(respBody, &lResp); err != nil {
		return nil, fmt.Errorf("failed to decode local embedding response: %w", err)
	}

	embeddings := make([]EmbeddingData, len(lResp.Embeddings))
	for i, vec := range lResp.Embeddings {
		embeddings[i] = EmbeddingData{Index: i, Embedding: vec}
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: embeddings,
		Usage: EmbeddingUsage{
			PromptTokens: lResp.PromptEvalCount,
			TotalTokens:  lResp.PromptEvalCount,
		},
		CreatedAt: time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

// EmbedDocuments 嵌入多个文档.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
