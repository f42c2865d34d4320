// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"insight-vault-go/internal/config"
	"insight-vault-go/pkg/log"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL: cfg.ServerURL,
		client:    &http.Client{},
	}
}

// ExtractPDFText 调用 Tika 提取 PDF 的文本层。
// 返回提取出的纯文本；扫描件没有文本层时返回空字符串，由调用方判定。
func (c *Client) ExtractPDFText(ctx context.Context, pdf []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/tika", bytes.NewReader(pdf))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	return buf.String(), nil
}

// PageCount 调用 Tika 的 /meta 接口获取 PDF 页数。
// 页数属于可选元数据，失败时返回 0 并由调用方优雅降级。
func (c *Client) PageCount(ctx context.Context, pdf []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/meta", bytes.NewReader(pdf))
	if err != nil {
		return 0, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("Tika /meta 返回非 200 状态码: %d", resp.StatusCode)
	}

	var meta map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return 0, fmt.Errorf("解析 Tika 元数据失败: %w", err)
	}

	if raw, ok := meta["xmpTPg:NPages"]; ok {
		switch v := raw.(type) {
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, nil
			}
		case float64:
			return int(v), nil
		}
	}
	log.Warnf("[TikaClient] Tika 元数据中没有页数字段")
	return 0, nil
}
