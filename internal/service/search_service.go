package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/pipeline"
	"insight-vault-go/pkg/log"
	"insight-vault-go/pkg/searchindex"
)

// SearchService 接口定义了对已摄取分段的语义检索操作。
type SearchService interface {
	SemanticSearch(ctx context.Context, actorID, query string, topK int, company, label string) ([]model.SearchResultDTO, error)
}

type searchService struct {
	embedder *pipeline.Embedder
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder *pipeline.Embedder, esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{
		embedder: embedder,
		esClient: esClient,
		esCfg:    esCfg,
	}
}

// SemanticSearch 执行 kNN 语义检索，只返回操作者自己的分段。
// 查询向量与入库向量来自同一个 embedding 客户端，保证维度与模型一致。
func (s *searchService) SemanticSearch(ctx context.Context, actorID, query string, topK int, company, label string) ([]model.SearchResultDTO, error) {
	log.Infof("[SearchService] 开始语义检索, actor: %s, query: '%s', topK: %d", actorID, query, topK)

	// 1. 向量化查询
	log.Info("[SearchService] 步骤1: 向量化查询")
	queryVector, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("向量化查询失败: %w", err)
	}

	// 2. 构建 kNN 查询，按所有者过滤，公司/类别为可选过滤条件
	log.Info("[SearchService] 步骤2: 构建 Elasticsearch kNN 查询")
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"owner_id": actorID}},
	}
	if company != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"company": company}})
	}
	if label != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"label": label}})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{"must": filters},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化检索查询失败: %w", err)
	}

	// 3. 执行检索
	log.Info("[SearchService] 步骤3: 向 Elasticsearch 发送检索请求")
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 检索请求失败: %v", err)
		return nil, fmt.Errorf("检索请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch 返回错误: %s", res.Status())
	}

	// 4. 解析结果
	log.Info("[SearchService] 步骤4: 解析检索响应")
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source searchindex.SegmentDocument `json:"_source"`
				Score  float64                     `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]model.SearchResultDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.SearchResultDTO{
			SegmentID:    hit.Source.SegmentID,
			DocumentID:   hit.Source.DocumentID,
			SourceName:   hit.Source.SourceName,
			Category:     hit.Source.Category,
			Company:      hit.Source.Company,
			Label:        hit.Source.Label,
			SegmentIndex: hit.Source.SegmentIndex,
			Content:      hit.Source.Content,
			Score:        hit.Score,
		})
	}

	log.Infof("[SearchService] 语义检索完成, query: '%s', 返回 %d 条结果", query, len(results))
	return results, nil
}
