package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"insight-vault-go/pkg/embedding"
)

// fakeEmbedClient 按调用顺序给每条文本分配一个递增的标量向量，
// 方便断言顺序保持。
type fakeEmbedClient struct {
	mu          sync.Mutex
	calls       [][]string
	failOnCall  int // 1-based，第 N 次调用返回瞬时错误
	quotaOnCall int // 1-based，第 N 次调用返回配额错误
	next        float32
}

func (c *fakeEmbedClient) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, append([]string(nil), texts...))
	call := len(c.calls)
	if call == c.failOnCall {
		return nil, errors.New("provider timeout")
	}
	if call == c.quotaOnCall {
		return nil, &embedding.QuotaError{Status: "429 Too Many Requests", Body: "insufficient_quota"}
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{c.next}
		c.next++
	}
	return vectors, nil
}

func (c *fakeEmbedClient) Model() string   { return "fake-embed-001" }
func (c *fakeEmbedClient) Dimensions() int { return 1 }

func (c *fakeEmbedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func makeTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	return texts
}

func TestEmbedAllBatchesAndPreservesOrder(t *testing.T) {
	client := &fakeEmbedClient{}
	embedder := NewEmbedder(client, 100)

	vectors, err := embedder.EmbedAll(context.Background(), makeTexts(250), nil)
	require.NoError(t, err)
	require.Len(t, vectors, 250)

	require.Len(t, client.calls, 3, "250 条文本按 100 一批应调用 3 次")
	assert.Len(t, client.calls[0], 100)
	assert.Len(t, client.calls[1], 100)
	assert.Len(t, client.calls[2], 50)

	for i, vector := range vectors {
		require.Len(t, vector, 1)
		assert.Equal(t, float32(i), vector[0], "第 %d 个向量与输入顺序不符", i)
	}
}

func TestEmbedAllReportsProgressPerBatch(t *testing.T) {
	client := &fakeEmbedClient{}
	embedder := NewEmbedder(client, 100)

	var progress []int
	_, err := embedder.EmbedAll(context.Background(), makeTexts(250), func(done, total int) {
		assert.Equal(t, 250, total)
		progress = append(progress, done)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{100, 200, 250}, progress)
}

func TestEmbedAllFailsWholeBatch(t *testing.T) {
	client := &fakeEmbedClient{failOnCall: 2}
	embedder := NewEmbedder(client, 100)

	vectors, err := embedder.EmbedAll(context.Background(), makeTexts(250), nil)

	require.Error(t, err)
	assert.Nil(t, vectors, "批内失败即整体失败，不返回部分结果")
	assert.Equal(t, 2, client.callCount(), "失败后不应继续提交后续批次")
}

func TestEmbedAllSurfacesQuotaError(t *testing.T) {
	client := &fakeEmbedClient{quotaOnCall: 1}
	embedder := NewEmbedder(client, 100)

	_, err := embedder.EmbedAll(context.Background(), makeTexts(10), nil)

	require.Error(t, err)
	assert.True(t, embedding.IsQuotaError(err), "配额错误应穿透包装向上传递")
}

func TestEmbedAllEmptyInput(t *testing.T) {
	embedder := NewEmbedder(&fakeEmbedClient{}, 100)
	vectors, err := embedder.EmbedAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedOne(t *testing.T) {
	client := &fakeEmbedClient{}
	embedder := NewEmbedder(client, 100)

	vector, err := embedder.EmbedOne(context.Background(), "query text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, vector)
	assert.Equal(t, "fake-embed-001", embedder.Model())
	assert.Equal(t, 1, embedder.Dimensions())
}
