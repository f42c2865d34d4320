// Package transcribe 提供了一个与语音转写服务交互的客户端。
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"insight-vault-go/internal/config"
	"insight-vault-go/pkg/log"
)

// Result 是一次转写调用的结果。
type Result struct {
	Text string
	// DurationSeconds 是提供方报告的音频时长，拿不到时为 0（优雅降级）。
	DurationSeconds float64
}

// Client defines the interface for a transcription client.
type Client interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (*Result, error)
	// Model 返回转写所用的模型标识。
	Model() string
}

type openAICompatibleClient struct {
	cfg    config.TranscriptionConfig
	client *http.Client
}

// NewClient 创建一个新的转写客户端实例。
func NewClient(cfg config.TranscriptionConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (c *openAICompatibleClient) Model() string { return c.cfg.Model }

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Transcribe 调用 OpenAI 兼容的 /audio/transcriptions 接口，将音频字节转为文本。
func (c *openAICompatibleClient) Transcribe(ctx context.Context, audio []byte, fileName string) (*Result, error) {
	log.Infof("[TranscribeClient] 开始调用转写 API, model: %s, file: %s, size: %d字节", c.cfg.Model, fileName, len(audio))

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("构建 multipart 请求失败: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("写入音频数据失败: %w", err)
	}
	if err := writer.WriteField("model", c.cfg.Model); err != nil {
		return nil, fmt.Errorf("写入 model 字段失败: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("写入 response_format 字段失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭 multipart writer 失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("创建转写请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[TranscribeClient] 调用转写 API 失败, error: %v", err)
		return nil, fmt.Errorf("调用转写 API 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Errorf("[TranscribeClient] 转写 API 返回错误 [%d]: %s", resp.StatusCode, string(respBody))
		return nil, fmt.Errorf("转写 API 返回非 200 状态码: %s", resp.Status)
	}

	var transcriptionResp transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&transcriptionResp); err != nil {
		return nil, fmt.Errorf("解析转写 API 响应失败: %w", err)
	}

	log.Infof("[TranscribeClient] 转写成功, 文本长度: %d 字符", len(transcriptionResp.Text))
	return &Result{
		Text:            transcriptionResp.Text,
		DurationSeconds: transcriptionResp.Duration,
	}, nil
}
