package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSentences 生成 n 个句子，每句恰好 10 个单词。
func buildSentences(n int) string {
	sentences := make([]string, n)
	for i := 0; i < n; i++ {
		sentences[i] = fmt.Sprintf("Sentence %d carries exactly ten words for this chunk test.", i+1)
	}
	return strings.Join(sentences, " ")
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Nil(t, Chunk("", 500, 50))
	assert.Nil(t, Chunk("   \n\t  ", 500, 50))
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	text := "This is a short document. It easily fits in one chunk."
	chunks := Chunk(text, 500, 50)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].SegmentIndex)
	assert.Contains(t, chunks[0].Content, "short document")
	assert.Contains(t, chunks[0].Content, "one chunk")
}

func TestChunkLongTextSplitsIntoTwo(t *testing.T) {
	// 1200 个单词，500 token 预算折算约 666 个单词，应切成两块
	text := buildSentences(120)
	chunks := Chunk(text, 500, 50)

	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].SegmentIndex)
	assert.Equal(t, 1, chunks[1].SegmentIndex)

	// 第二块以重叠窗口开头：第一块尾部的句子被原样带入
	assert.True(t, strings.HasPrefix(chunks[1].Content, "Sentence 61 "), "第二块应以重叠句子开头: %s", chunks[1].Content[:40])
	assert.Contains(t, chunks[0].Content, "Sentence 66 ")
	assert.Contains(t, chunks[1].Content, "Sentence 66 ")
}

func TestChunkRespectsWordBudget(t *testing.T) {
	text := buildSentences(200)
	chunks := Chunk(text, 500, 50)
	ratio := float64(tokensPerWord)
	wordBudget := int(500 / ratio)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(chunk.Content)), wordBudget,
			"分块 %d 超出单词预算", chunk.SegmentIndex)
	}
}

func TestChunkWithoutOverlapCoversEveryWordOnce(t *testing.T) {
	text := buildSentences(150)
	chunks := Chunk(text, 500, 0)

	require.Greater(t, len(chunks), 1)
	var joined []string
	for _, chunk := range chunks {
		joined = append(joined, chunk.Content)
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(joined, " ")),
		"无重叠时各分块拼接应还原全部单词且不重复")
}

func TestChunkIndexesAreSequential(t *testing.T) {
	chunks := Chunk(buildSentences(300), 500, 50)
	require.Greater(t, len(chunks), 2)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.SegmentIndex)
	}
}

func TestChunkCharOffsetsAreOrderedAndIntersect(t *testing.T) {
	chunks := Chunk(buildSentences(300), 500, 50)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Less(t, chunk.CharStart, chunk.CharEnd, "分块 %d 的区间为空", i)
		if i == 0 {
			continue
		}
		assert.Greater(t, chunk.CharStart, chunks[i-1].CharStart, "起始偏移应单调递增")
		// 有重叠时相邻分块的字符区间相交
		assert.Less(t, chunk.CharStart, chunks[i-1].CharEnd, "相邻分块的区间应相交")
	}
}

func TestSplitSentencesBoundaryHeuristic(t *testing.T) {
	sentences := splitSentences("Pi is approximately 3.14 in value. The next sentence follows! Does it work? Yes")

	require.Len(t, sentences, 4)
	assert.Equal(t, "Pi is approximately 3.14 in value.", sentences[0], "小数点不应被当作句子边界")
	assert.Equal(t, "The next sentence follows!", sentences[1])
	assert.Equal(t, "Does it work?", sentences[2])
	assert.Equal(t, "Yes", sentences[3], "没有终结符的余文算作最后一个句子")
}

func TestChunkProducesNoEmptyChunks(t *testing.T) {
	for _, text := range []string{
		"One.",
		"One. Two. Three.",
		buildSentences(50),
	} {
		for _, chunk := range Chunk(text, 10, 5) {
			assert.NotEmpty(t, strings.TrimSpace(chunk.Content))
		}
	}
}
