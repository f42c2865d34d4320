package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"insight-vault-go/internal/jobrunner"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/log"
)

// 提取阶段的步骤名。三类源任务共用同一套步骤名，
// 这样持久化步骤可以统一读取提取结果。
const (
	stepFetchEntity     = "fetch-entity"
	stepDownloadExtract = "download-extract"
	stepPersistText     = "persist-extracted-text"
	stepTriggerEmbed    = "trigger-continuation"
)

// extractOutput 是 download-extract 步骤的统一输出。
type extractOutput struct {
	Text            string  `json:"text"`
	Model           string  `json:"model,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	PageCount       int     `json:"page_count,omitempty"`
}

// AudioIngestJob 定义音频源的提取任务：下载音频、转写、持久化文本。
// 转写受提供方限流，并发上限压在 5。
func (p *Pipeline) AudioIngestJob() jobrunner.Job {
	return jobrunner.Job{
		Name:        "audio-source-ingest",
		Concurrency: 5,
		Retries:     p.cfg.StepRetries,
		Steps: []jobrunner.Step{
			{Name: stepFetchEntity, Run: p.fetchForExtraction},
			{Name: stepDownloadExtract, Run: p.transcribeAudio},
			{Name: stepPersistText, Run: p.persistExtractedText},
			{Name: stepTriggerEmbed, Run: p.triggerEmbedStage},
		},
		OnFailure: p.extractionFailureHook,
	}
}

// PDFIngestJob 定义 PDF 源的提取任务。文本提取是 CPU 密集型，
// 不受提供方限流，并发上限放宽到 10。
func (p *Pipeline) PDFIngestJob() jobrunner.Job {
	return jobrunner.Job{
		Name:        "pdf-source-ingest",
		Concurrency: 10,
		Retries:     p.cfg.StepRetries,
		Steps: []jobrunner.Step{
			{Name: stepFetchEntity, Run: p.fetchForExtraction},
			{Name: stepDownloadExtract, Run: p.extractPDF},
			{Name: stepPersistText, Run: p.persistExtractedText},
			{Name: stepTriggerEmbed, Run: p.triggerEmbedStage},
		},
		OnFailure: p.extractionFailureHook,
	}
}

// ResearchIngestJob 定义研究报告源的扁平化任务。
func (p *Pipeline) ResearchIngestJob() jobrunner.Job {
	return jobrunner.Job{
		Name:        "research-source-ingest",
		Concurrency: 5,
		Retries:     p.cfg.StepRetries,
		Steps: []jobrunner.Step{
			{Name: stepFetchEntity, Run: p.fetchForExtraction},
			{Name: stepDownloadExtract, Run: p.flattenResearch},
			{Name: stepPersistText, Run: p.persistExtractedText},
			{Name: stepTriggerEmbed, Run: p.triggerEmbedStage},
		},
		OnFailure: p.extractionFailureHook,
	}
}

// fetchForExtraction 加载源文档并把提取状态推进到 processing。
// 实体不存在是硬停止：不重试，直接走失败路径。
func (p *Pipeline) fetchForExtraction(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	doc, err := p.docRepo.FindByID(sc.Event.DocumentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return nil, jobrunner.Terminal(fmt.Errorf("源文档 %d 不存在", sc.Event.DocumentID))
	}
	if err != nil {
		return nil, fmt.Errorf("查询源文档失败: %w", err)
	}

	if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
		"extraction_status": model.StatusProcessing,
		"error_message":     nil,
	}); err != nil {
		return nil, fmt.Errorf("更新提取状态失败: %w", err)
	}
	doc.ExtractionStatus = model.StatusProcessing
	return doc, nil
}

// transcribeAudio 下载音频并调用转写服务。
// 下载和转换必须在同一个步骤内完成：原始字节不能跨步骤边界序列化，
// 这是管道的融合规则，不是某个运行时的限制。
func (p *Pipeline) transcribeAudio(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchEntity, &doc); err != nil {
		return nil, err
	}

	audio, err := p.store.DownloadBytes(ctx, doc.Bucket, doc.ObjectPath)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, jobrunner.Terminal(errors.New("音频文件内容为空"))
	}

	result, err := p.transcriber.Transcribe(ctx, audio, doc.SourceName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, jobrunner.Terminal(errors.New("转写结果为空，音频可能不包含语音"))
	}

	log.Infof("[Pipeline] 音频转写完成, DocumentID: %d, 文本长度: %d", doc.ID, len(result.Text))
	return extractOutput{
		Text:            result.Text,
		Model:           p.transcriber.Model(),
		DurationSeconds: result.DurationSeconds,
	}, nil
}

// extractPDF 下载 PDF 并通过 Tika 提取文本层。
// 没有文本层的扫描件是内容性问题，重试不会改变结果。
func (p *Pipeline) extractPDF(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchEntity, &doc); err != nil {
		return nil, err
	}

	pdf, err := p.store.DownloadBytes(ctx, doc.Bucket, doc.ObjectPath)
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, jobrunner.Terminal(errors.New("PDF 文件内容为空"))
	}

	text, err := p.pdf.ExtractPDFText(ctx, pdf)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, jobrunner.Terminal(errors.New("PDF 没有可提取的文本层（可能是扫描件）"))
	}

	// 页数是可选元数据，拿不到时降级为 0，不影响主流程
	pageCount, err := p.pdf.PageCount(ctx, pdf)
	if err != nil {
		log.Warnf("[Pipeline] 获取 PDF 页数失败, DocumentID: %d: %v", doc.ID, err)
		pageCount = 0
	}

	log.Infof("[Pipeline] PDF 文本提取完成, DocumentID: %d, 文本长度: %d, 页数: %d", doc.ID, len(text), pageCount)
	return extractOutput{Text: text, Model: "tika", PageCount: pageCount}, nil
}

// flattenResearch 下载 JSON 研究报告并扁平化为纯文本。
func (p *Pipeline) flattenResearch(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchEntity, &doc); err != nil {
		return nil, err
	}

	raw, err := p.store.DownloadBytes(ctx, doc.Bucket, doc.ObjectPath)
	if err != nil {
		return nil, err
	}

	text, err := FlattenResearchReport(raw, doc.SourceName, doc.Company, doc.ResearchLabel)
	if err != nil {
		// 结构损坏的报告重试不会修好
		return nil, jobrunner.Terminal(err)
	}
	if text == "" {
		return nil, jobrunner.Terminal(errors.New("研究报告没有可向量化的内容"))
	}

	log.Infof("[Pipeline] 研究报告扁平化完成, DocumentID: %d, 文本长度: %d", doc.ID, len(text))
	return extractOutput{Text: text}, nil
}

// persistExtractedText 把提取出的文本作为持久产物上传，
// 记录提取元数据并把提取状态推进到 completed。
func (p *Pipeline) persistExtractedText(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	var doc model.SourceDocument
	if err := sc.Result(stepFetchEntity, &doc); err != nil {
		return nil, err
	}
	var extracted extractOutput
	if err := sc.Result(stepDownloadExtract, &extracted); err != nil {
		return nil, err
	}

	textPath := TextObjectPath(doc.ObjectPath)
	if err := p.store.UploadBytes(ctx, p.minioCfg.TextBucket, textPath, []byte(extracted.Text), "text/plain; charset=utf-8"); err != nil {
		return nil, err
	}

	wordCount := countTextWords(extracted.Text)
	if err := p.docRepo.Updates(doc.ID, map[string]interface{}{
		"extraction_status": model.StatusCompleted,
		"text_path":         textPath,
		"word_count":        wordCount,
		"extraction_model":  extracted.Model,
		"duration_seconds":  extracted.DurationSeconds,
		"page_count":        extracted.PageCount,
	}); err != nil {
		return nil, fmt.Errorf("更新提取结果失败: %w", err)
	}

	log.Infof("[Pipeline] 提取文本已持久化, DocumentID: %d, 路径: %s, 单词数: %d", doc.ID, textPath, wordCount)
	return map[string]interface{}{"text_path": textPath, "word_count": wordCount}, nil
}

// triggerEmbedStage 发出接续事件，让分块+向量化阶段作为独立任务运行。
// 两个阶段解耦后，受限流的向量化调用不会拖住提取阶段的并发。
func (p *Pipeline) triggerEmbedStage(ctx context.Context, sc *jobrunner.StepContext) (interface{}, error) {
	next := events.NewDocumentEvent(sc.Event.DocumentID, sc.Event.ActorID)
	if err := p.publisher.Publish(ctx, events.TextExtracted, next); err != nil {
		return nil, err
	}
	return map[string]string{"next_job_id": next.JobID}, nil
}

// extractionFailureHook 在提取任务终态失败时把状态和错误信息写回文档。
// 钩子必须幂等，且不假设任何步骤成功过。
func (p *Pipeline) extractionFailureHook(ctx context.Context, sc *jobrunner.StepContext, stepName string, stepErr error) error {
	msg := stepErr.Error()
	err := p.docRepo.Updates(sc.Event.DocumentID, map[string]interface{}{
		"extraction_status": model.StatusFailed,
		"error_message":     msg,
	})
	if errors.Is(err, repository.ErrDocumentNotFound) {
		// 实体已不存在，没有可以写回的对象
		log.Warnf("[Pipeline] 源文档 %d 已不存在，跳过失败状态写回", sc.Event.DocumentID)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("写入提取失败状态失败: %w", err)
	}
	log.Errorf("[Pipeline] 提取任务终态失败, DocumentID: %d, 步骤: %s, 原因: %s", sc.Event.DocumentID, stepName, msg)
	return nil
}
