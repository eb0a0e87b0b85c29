package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GeminiProvider 使用 Google Gemini API 执行嵌入.
// 注: Gemini 使用不同的端点格式: /models/{model}:embedContent
type GeminiProvider struct {
	*BaseProvider
	cfg GeminiConfig
}

// NewGeminiProvider 创建新的 Gemini 嵌入提供者.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}

	return &GeminiProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "gemini",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   100,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

// Available 在配置了 API Key 时返回 true.
func (p *GeminiProvider) Available() bool {
	return p.cfg.APIKey != ""
}

// Gemini TaskType 映射
type geminiTaskType string

const (
	geminiTaskRetrievalQuery    geminiTaskType = "RETRIEVAL_QUERY"
	geminiTaskRetrievalDocument geminiTaskType = "RETRIEVAL_DOCUMENT"
)

type geminiEmbedRequest struct {
	Model                string         `json:"model"`
	Content              geminiContent  `json:"content"`
	TaskType             geminiTaskType `json:"taskType,omitempty"`
	OutputDimensionality int            `json:"outputDimensionality,omitempty"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding geminiContentEmbedding `json:"embedding"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiContentEmbedding `json:"embeddings"`
}

type geminiContentEmbedding struct {
	Values []float64 `json:"values"`
}

// mapTaskType 将输入任务类型转换为 Gemini 任务类型.
func mapTaskType(inputType InputType) geminiTaskType {
	if inputType == InputTypeQuery {
		return geminiTaskRetrievalQuery
	}
	return geminiTaskRetrievalDocument
}

func (p *GeminiProvider) newRequest(model, text string, taskType geminiTaskType, dims int) geminiEmbedRequest {
	return geminiEmbedRequest{
		Model:                fmt.Sprintf("models/%s", model),
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType:             taskType,
		OutputDimensionality: dims,
	}
}

// Embed 使用 Gemini API 生成嵌入.
func (p *GeminiProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return &EmbeddingResponse{Provider: p.Name(), CreatedAt: time.Now()}, nil
	}

	model := ChooseModel(req.Model, p.cfg.Model, "gemini-embedding-001")
	taskType := mapTaskType(req.InputType)
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}
	headers := map[string]string{"x-goog-api-key": p.cfg.APIKey}

	// 对多个输入使用批量端点
	if len(req.Input) > 1 {
		requests := make([]geminiEmbedRequest, len(req.Input))
		for i, text := range req.Input {
			requests[i] = p.newRequest(model, text, taskType, dims)
		}
		respBody, err := p.DoRequest(ctx, "POST", fmt.Sprintf("/models/%s:batchEmbedContents", model),
			geminiBatchEmbedRequest{Requests: requests}, headers)
		if err != nil {
			return nil, err
		}

		var gResp geminiBatchEmbedResponse
		if err := json.Unmarshal(respBody, &gResp); err != nil {
			return nil, fmt.Errorf("failed to decode gemini batch response: %w", err)
		}

		embeddings := make([]EmbeddingData, len(gResp.Embeddings))
		for i, emb := range gResp.Embeddings {
			embeddings[i] = EmbeddingData{Index: i, Embedding: emb.Values}
		}
		return &EmbeddingResponse{
			Provider:   p.Name(),
			Model:      model,
			Embeddings: embeddings,
			CreatedAt:  time.Now(),
		}, nil
	}

	respBody, err := p.DoRequest(ctx, "POST", fmt.Sprintf("/models/%s:embedContent", model),
		p.newRequest(model, req.Input[0], taskType, dims), headers)
	if err != nil {
		return nil, err
	}

	var gResp geminiEmbedResponse
	if err := json.Unmarshal(respBody, &gResp); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}

	return &EmbeddingResponse{
		Provider: p.Name(),
		Model:    model,
		Embeddings: []EmbeddingData{{
			Index:     0,
			Embedding: gResp.Embedding.Values,
		}},
		CreatedAt: time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

// EmbedDocuments 嵌入多个文档.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
