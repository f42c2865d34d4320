// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"insight-vault-go/internal/config"
	"insight-vault-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	// CreateEmbeddings 为一批文本生成向量，结果与输入同序、等长。
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	// Model 返回生成向量所用的模型标识。
	Model() string
	// Dimensions 返回向量维度。
	Dimensions() int
}

// QuotaError 表示提供方账户级的配额/计费失败。
// 这类错误重试不会成功，且同批次的兄弟任务会以相同方式失败。
type QuotaError struct {
	Status string
	Body   string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("embedding 提供方配额/计费错误: %s", e.Status)
}

// IsQuotaError 判断错误链中是否存在配额错误。
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Model() string   { return c.cfg.Model }
func (c *openAICompatibleClient) Dimensions() int { return c.cfg.Dimensions }

// CreateEmbeddings calls the OpenAI-compatible API to get vectors for a batch of texts.
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if isQuotaStatus(resp.StatusCode, string(body)) {
			log.Errorf("[EmbeddingClient] Embedding API 返回配额/计费错误: %s", resp.Status)
			return nil, &QuotaError{Status: resp.Status, Body: string(body)}
		}
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(texts) {
		log.Errorf("[EmbeddingClient] Embedding API 返回的向量数量不匹配: 期望 %d, 实际 %d", len(texts), len(embeddingResp.Data))
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(texts))
	}

	// 按 index 字段还原顺序，保证向量与输入文本一一对应
	vectors := make([][]float32, len(texts))
	for _, item := range embeddingResp.Data {
		if item.Index < 0 || item.Index >= len(texts) || len(item.Embedding) == 0 {
			return nil, fmt.Errorf("received invalid embedding data from api (index=%d)", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// isQuotaStatus 识别提供方账户级的配额/计费失败。
// 402 一律视为计费问题；429 只有在响应体指明配额耗尽时才算
// （普通限流应当作瞬时错误重试）。
func isQuotaStatus(statusCode int, body string) bool {
	if statusCode == http.StatusPaymentRequired {
		return true
	}
	if statusCode == http.StatusTooManyRequests {
		lower := strings.ToLower(body)
		return strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "billing")
	}
	return false
}
