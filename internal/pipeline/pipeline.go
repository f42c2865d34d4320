package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"insight-vault-go/internal/config"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/storage"
	"insight-vault-go/pkg/transcribe"
)

// PDFExtractor 抽象 PDF 文本提取能力（生产实现为 Tika 客户端）。
type PDFExtractor interface {
	ExtractPDFText(ctx context.Context, pdf []byte) (string, error)
	PageCount(ctx context.Context, pdf []byte) (int, error)
}

// SegmentIndexer 抽象检索索引的写入能力（生产实现为 Elasticsearch）。
type SegmentIndexer interface {
	IndexSegments(ctx context.Context, doc *model.SourceDocument, segments []*model.Segment) error
}

// Pipeline 封装了摄取管道所有任务定义及其依赖。
// 它不做并发控制：每类任务只声明并发上限，由事件分发层执行。
type Pipeline struct {
	docRepo     repository.SourceDocumentRepository
	segmentRepo repository.SegmentRepository
	batchRepo   repository.ResearchBatchRepository
	store       storage.ObjectStore
	publisher   events.Publisher
	embedder    *Embedder
	transcriber transcribe.Client
	pdf         PDFExtractor
	indexer     SegmentIndexer
	minioCfg    config.MinIOConfig
	cfg         config.PipelineConfig
}

// NewPipeline 创建一个新的 Pipeline 实例。
func NewPipeline(
	docRepo repository.SourceDocumentRepository,
	segmentRepo repository.SegmentRepository,
	batchRepo repository.ResearchBatchRepository,
	store storage.ObjectStore,
	publisher events.Publisher,
	embedder *Embedder,
	transcriber transcribe.Client,
	pdf PDFExtractor,
	indexer SegmentIndexer,
	minioCfg config.MinIOConfig,
	cfg config.PipelineConfig,
) *Pipeline {
	if cfg.ChunkSizeTokens <= 0 {
		cfg.ChunkSizeTokens = 500
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = DefaultInsertBatchSize
	}
	return &Pipeline{
		docRepo:     docRepo,
		segmentRepo: segmentRepo,
		batchRepo:   batchRepo,
		store:       store,
		publisher:   publisher,
		embedder:    embedder,
		transcriber: transcriber,
		pdf:         pdf,
		indexer:     indexer,
		minioCfg:    minioCfg,
		cfg:         cfg,
	}
}

// DefaultInsertBatchSize 是单次数据库插入的行数上限（传输层限制）。
const DefaultInsertBatchSize = 100

// TextObjectPath 由原始对象路径确定性地推导纯文本产物的路径：
// 把扩展名换成 .txt。两个阶段之间只通过这个约定耦合。
func TextObjectPath(objectPath string) string {
	ext := filepath.Ext(objectPath)
	return strings.TrimSuffix(objectPath, ext) + ".txt"
}

// countTextWords 统计文本的单词数（空白分隔）。
func countTextWords(text string) int {
	return len(strings.Fields(text))
}
