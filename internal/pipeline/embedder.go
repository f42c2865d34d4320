package pipeline

import (
	"context"
	"fmt"

	"insight-vault-go/pkg/embedding"
	"insight-vault-go/pkg/log"
)

// DefaultEmbedBatchSize 是单次提供方调用的文本数上限（提供方限制）。
const DefaultEmbedBatchSize = 100

// Embedder 将分块按固定批次提交给 embedding 提供方，保持输入顺序。
// 批内失败即整体失败，不做批内部分重试——重试是编排层的职责。
type Embedder struct {
	client    embedding.Client
	batchSize int
}

// NewEmbedder 创建一个新的 Embedder 实例。batchSize <= 0 时使用默认值。
func NewEmbedder(client embedding.Client, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &Embedder{client: client, batchSize: batchSize}
}

// EmbedAll 为每个输入文本生成一个向量，结果与输入同序、等长。
// 每成功一批就调用一次 onProgress（累计完成数、总数），
// 让编排层能够增量持久化进度，不必等整个文档完成。
func (e *Embedder) EmbedAll(ctx context.Context, texts []string, onProgress func(done, total int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	total := len(texts)
	vectors := make([][]float32, 0, total)

	for i := 0; i < total; i += e.batchSize {
		end := i + e.batchSize
		if end > total {
			end = total
		}

		batch, err := e.client.CreateEmbeddings(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批次 %d-%d 向量化失败: %w", i, end, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("批次 %d-%d 返回了 %d 个向量, 期望 %d", i, end, len(batch), end-i)
		}

		vectors = append(vectors, batch...)
		log.Infof("[Embedder] 批次向量化完成: %d/%d", len(vectors), total)
		if onProgress != nil {
			onProgress(len(vectors), total)
		}
	}

	return vectors, nil
}

// EmbedOne 为单条文本生成向量，检索时使用。
// 它与 EmbedAll 走同一个客户端，保证查询向量与入库向量来自
// 同一模型和维度空间——这是相似度比较有意义的前提。
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("期望 1 个向量, 实际返回 %d 个", len(vectors))
	}
	return vectors[0], nil
}

// Model 返回向量模型标识。
func (e *Embedder) Model() string { return e.client.Model() }

// Dimensions 返回向量维度。
func (e *Embedder) Dimensions() int { return e.client.Dimensions() }
