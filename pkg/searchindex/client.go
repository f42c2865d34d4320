// Package searchindex 提供了与 Elasticsearch 检索索引交互的功能。
package searchindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/pipeline"
	"insight-vault-go/pkg/log"
)

// ESClient 是一个全局的 Elasticsearch 客户端实例。
var ESClient *elasticsearch.Client

// SegmentDocument 是分段在检索索引中的文档结构。
type SegmentDocument struct {
	SegmentID    uint      `json:"segment_id"`
	DocumentID   uint      `json:"document_id"`
	OwnerID      string    `json:"owner_id"`
	SourceName   string    `json:"source_name"`
	Category     string    `json:"category"`
	Company      string    `json:"company,omitempty"`
	Label        string    `json:"label,omitempty"`
	SegmentIndex int       `json:"segment_index"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// InitES 初始化 Elasticsearch 客户端并确保分段索引存在。
// dims 是向量维度，必须与 embedding 模型的输出一致。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度来自配置：检索向量必须与入库向量同维度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"segment_id": { "type": "long" },
				"document_id": { "type": "long" },
				"owner_id": { "type": "keyword" },
				"source_name": { "type": "keyword" },
				"category": { "type": "keyword" },
				"company": { "type": "keyword" },
				"label": { "type": "keyword" },
				"segment_index": { "type": "integer" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// Indexer 基于全局 Elasticsearch 客户端实现分段索引写入。
type Indexer struct {
	indexName string
}

// NewIndexer 创建一个新的 Indexer 实例。必须先调用 InitES。
func NewIndexer(indexName string) *Indexer {
	return &Indexer{indexName: indexName}
}

// IndexSegments 将一个文档的全部分段批量写入检索索引。
// 使用 segment_id 作为文档 ID，重复写入是幂等的覆盖操作。
func (x *Indexer) IndexSegments(ctx context.Context, doc *model.SourceDocument, segments []*model.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, segment := range segments {
		vector, err := pipeline.DecodeVector(segment.Embedding)
		if err != nil {
			return fmt.Errorf("分段 %d 的向量无法解析: %w", segment.ID, err)
		}

		meta := fmt.Sprintf(`{"index":{"_id":"%d"}}`, segment.ID)
		docBytes, err := json.Marshal(SegmentDocument{
			SegmentID:    segment.ID,
			DocumentID:   doc.ID,
			OwnerID:      doc.OwnerID,
			SourceName:   doc.SourceName,
			Category:     string(doc.Category),
			Company:      doc.Company,
			Label:        doc.ResearchLabel,
			SegmentIndex: segment.SegmentIndex,
			Content:      segment.Content,
			Vector:       vector,
			ModelVersion: segment.ModelVersion,
		})
		if err != nil {
			return err
		}

		buf.WriteString(meta)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := ESClient.Bulk(
		bytes.NewReader(buf.Bytes()),
		ESClient.Bulk.WithContext(ctx),
		ESClient.Bulk.WithIndex(x.indexName),
		ESClient.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("批量写入检索索引失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量写入检索索引出错: %s", res.String())
		return errors.New("批量写入检索索引时 Elasticsearch 返回错误")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析批量写入响应失败: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("部分分段写入检索索引失败")
	}

	log.Infof("[SearchIndex] 已索引 %d 个分段, DocumentID: %d", len(segments), doc.ID)
	return nil
}

// DeleteByDocumentID 删除某个文档的全部索引分段（重新摄取前清理旧数据）。
func (x *Indexer) DeleteByDocumentID(ctx context.Context, documentID uint) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%d}}}`, documentID)
	res, err := ESClient.DeleteByQuery(
		[]string{x.indexName},
		strings.NewReader(query),
		ESClient.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("按文档清理检索索引失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按文档清理检索索引出错: %s", res.String())
		return errors.New("清理检索索引时 Elasticsearch 返回错误")
	}
	return nil
}
