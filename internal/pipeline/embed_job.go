package pipeline

import (
	"context"
	"errors"
	"fmt"

	"insight-vault-go/internal/jobrunner"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/embedding"
	"insight-vault-go/pkg/log"
)

// 向量化阶段的步骤名。
const (
	stepFetchForEmbed   = "fetch-entity"
	stepDownloadText    = "download-text"
	stepChunk           = "chunk"
	stepEmbed           = "embed"
	stepPersistSegments = "persist-segments"
	stepIndexSearch     = "index-search"
	stepMarkCompleted   = "mark-completed"
)

// EmbedJob 定义分块+向量化+落库任务，由 text/extracted 事件触发。
// 向量化调用受提供方限流，并发上限压在 5。
func (p *Pipeline) EmbedJob() jobrunner.Job {
	return jobrunner.Job{
		Name:        "segment-embed",
		Concurrency: 5,
		Retries:     p.cfg.StepRetries,
		Steps: []jobrunner.Step{
			{Name: stepFetchForEmbed, Run: p.fetchForEmbedding},
			{Name: stepDownloadText, Run: p.downloadExtractedText},
			{Name: stepChunk, Run: p.chunkText},
			{Name: stepEmbed, Run: p.embedChunks},
			{Name: stepPersistSegments, Run: p.persistSegments},
			{Name: stepIndexSearch, Run: p.indexSegments},
			{Name: stepMarkCompleted, Run: p.markEmbeddingCompleted},
		},
		OnFailure: p.embeddingFailureHook,
	}
}

// fetchForEmbedding 加载源文档并把向量化状态推进到 processing。
// 状态门控：提取尚未完成的文档不允许进入向量化阶段。
func (p *Pipeline) fetchForEmbedding(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	doc, err := p.docRepo.FindByID(sc.Event.DocumentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return nil, jobrunner.Terminal(fmt.Errorf("源文档 %d 不存在", sc.Event.DocumentID))
	}
	if err != nil {
		return nil, fmt.Errorf("查询源文档失败: %w", err)
	}

	if doc.ExtractionStatus != model.StatusCompleted {
		return nil, jobrunner.Terminal(fmt.Errorf("源文档 %d 的提取尚未完成 (extraction_status=%s)，不能进入向量化阶段", doc.ID, doc.ExtractionStatus))
	}

	if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
		"embedding_status":   model.StatusProcessing,
		"processed_segments": 0,
		"error_message":      nil,
	}); err != nil {
		return nil, fmt.Errorf("更新向量化状态失败: %w", err)
	}
	doc.EmbeddingStatus = model.StatusProcessing
	return doc, nil
}

// downloadExtractedText 重新下载持久化的文本产物。
// 向量化阶段不依赖提取阶段的内存状态，只认这份产物，
// 两个阶段因此保持松耦合且可以安全重放。
func (p *Pipeline) downloadExtractedText(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}
	if doc.TextPath == "" {
		return nil, jobrunner.Terminal(fmt.Errorf("源文档 %d 没有文本产物路径", doc.ID))
	}

	text, err := p.store.DownloadBytes(ctx, p.minioCfg.TextBucket, doc.TextPath)
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": string(text)}, nil
}

// chunkText 运行分块器并把分块数写回文档，用于进度展示。
// 空文本产出零个分块，这不是错误：文档最终会以 0 个分段完成。
func (p *Pipeline) chunkText(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}
	var downloaded map[string]string
	if err := sc.Result(stepDownloadText, &downloaded); err != nil {
		return nil, err
	}

	chunks := Chunk(downloaded["text"], p.cfg.ChunkSizeTokens, p.cfg.OverlapTokens)
	if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
		"segment_count": len(chunks),
	}); err != nil {
		return nil, fmt.Errorf("更新分块数失败: %w", err)
	}

	log.Infof("[Pipeline] 分块完成, DocumentID: %d, 分块数: %d", doc.ID, len(chunks))
	return chunks, nil
}

// embedChunks 为全部分块生成向量，每批成功后把累计进度写回文档。
// 配额/计费错误是账户级的终态错误，不重试。
func (p *Pipeline) embedChunks(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}
	var chunks []TextChunk
	if err := sc.Result(stepChunk, &chunks); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return [][]float32{}, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := p.embedder.EmbedAll(ctx, texts, func(done, total int) {
		if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
			"processed_segments": done,
		}); err != nil {
			log.Warnf("[Pipeline] 更新向量化进度失败, DocumentID: %d: %v", doc.ID, err)
		}
	})
	if err != nil {
		if embedding.IsQuotaError(err) {
			return nil, jobrunner.Terminal(err)
		}
		return nil, err
	}
	return vectors, nil
}

// persistSegments 把分块+向量落库，每批不超过 InsertBatchSize 行。
// 先清理既有分段再插入，保证同一个任务重放不会产生重复分段。
func (p *Pipeline) persistSegments(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}
	var chunks []TextChunk
	if err := sc.Result(stepChunk, &chunks); err != nil {
		return nil, err
	}
	var vectors [][]float32
	if err := sc.Result(stepEmbed, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, jobrunner.Terminal(fmt.Errorf("向量数 %d 与分块数 %d 不一致", len(vectors), len(chunks)))
	}

	if err := p.segmentRepo.DeleteByDocumentID(doc.ID); err != nil {
		return nil, fmt.Errorf("清理既有分段失败: %w", err)
	}

	segments := make([]*model.Segment, len(chunks))
	for i, chunk := range chunks {
		segments[i] = &model.Segment{
			DocumentID:   doc.ID,
			Content:      chunk.Content,
			Embedding:    EncodeVector(vectors[i]),
			SegmentIndex: chunk.SegmentIndex,
			CharStart:    chunk.CharStart,
			CharEnd:      chunk.CharEnd,
			ModelVersion: p.embedder.Model(),
		}
	}
	if err := p.segmentRepo.BatchCreate(segments, p.cfg.InsertBatchSize); err != nil {
		return nil, fmt.Errorf("批量插入分段失败: %w", err)
	}

	segmentIDs := make([]uint, len(segments))
	for i, segment := range segments {
		segmentIDs[i] = segment.ID
	}

	// 研究类源额外写入公司/类别标签关联。写之前重新确认父文档仍然存在，
	// 防范两个阶段之间父实体被删除的竞态。
	if doc.Category == model.CategoryResearch && len(segments) > 0 {
		if _, err := p.docRepo.FindByID(doc.ID); err != nil {
			if errors.Is(err, repository.ErrDocumentNotFound) {
				return nil, jobrunner.Terminal(fmt.Errorf("父文档 %d 在向量化期间被删除", doc.ID))
			}
			return nil, err
		}
		tags := make([]*model.ResearchSegmentTag, len(segments))
		for i, segment := range segments {
			tags[i] = &model.ResearchSegmentTag{
				SegmentID:  segment.ID,
				DocumentID: doc.ID,
				Company:    doc.Company,
				Label:      doc.ResearchLabel,
			}
		}
		if err := p.segmentRepo.BatchCreateTags(tags, p.cfg.InsertBatchSize); err != nil {
			return nil, fmt.Errorf("批量插入研究标签失败: %w", err)
		}
	}

	log.Infof("[Pipeline] 分段落库完成, DocumentID: %d, 分段数: %d", doc.ID, len(segments))
	return segmentIDs, nil
}

// indexSegments 把分段写入检索索引，供查询时的相似度搜索使用。
func (p *Pipeline) indexSegments(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}

	segments, err := p.segmentRepo.FindByDocumentID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("读取分段失败: %w", err)
	}
	if len(segments) == 0 {
		return map[string]int{"indexed": 0}, nil
	}

	if err := p.indexer.IndexSegments(ctx, &doc, segments); err != nil {
		return nil, fmt.Errorf("写入检索索引失败: %w", err)
	}
	return map[string]int{"indexed": len(segments)}, nil
}

// markEmbeddingCompleted 把向量化状态推进到 completed 并写入最终分段数。
func (p *Pipeline) markEmbeddingCompleted(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchForEmbed, &doc); err != nil {
		return nil, err
	}
	var chunks []TextChunk
	if err := sc.Result(stepChunk, &chunks); err != nil {
		return nil, err
	}

	if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
		"embedding_status":   model.StatusCompleted,
		"segment_count":      len(chunks),
		"processed_segments": len(chunks),
	}); err != nil {
		return nil, fmt.Errorf("更新完成状态失败: %w", err)
	}

	log.Infof("[Pipeline] 向量化任务完成, DocumentID: %d, 分段数: %d", doc.ID, len(chunks))
	return map[string]int{"segment_count": len(chunks)}, nil
}

// embeddingFailureHook 在向量化任务终态失败时写回失败状态。
// 配额/计费错误会同时把所属研究批次标记为失败：这一批的兄弟任务
// 都会以相同方式失败，等待整批结果的消费者不应无限轮询。
func (p *Pipeline) embeddingFailureHook(ctx context.Context, sc *jobrunner.StepContext, stepName string, stepErr error) error {
	msg := stepErr.Error()
	err := p.docRepo.Updates(sc.Event.DocumentID, map[string]interface{}{
		"embedding_status": model.StatusFailed,
		"error_message":    msg,
	})
	if errors.Is(err, repository.ErrDocumentNotFound) {
		// 实体已不存在，没有可以写回的对象
		log.Warnf("[Pipeline] 源文档 %d 已不存在，跳过失败状态写回", sc.Event.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("写入向量化失败状态失败: %w", err)
	}

	if embedding.IsQuotaError(stepErr) {
		doc, err := p.docRepo.FindByID(sc.Event.DocumentID)
		if err == nil && doc.ResearchBatchID != nil {
			if err := p.batchRepo.Updates(*doc.ResearchBatchID, map[string]interface{}{
				"status":        model.StatusFailed,
				"error_message": msg,
			}); err != nil {
				return fmt.Errorf("写入批次失败状态失败: %w", err)
			}
			log.Errorf("[Pipeline] 配额错误已传播到研究批次 %d", *doc.ResearchBatchID)
		}
	}

	log.Errorf("[Pipeline] 向量化任务终态失败, DocumentID: %d, 步骤: %s, 原因: %s", sc.Event.DocumentID, stepName, msg)
	return nil
}
