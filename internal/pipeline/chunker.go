// Package pipeline 实现了源文档的异步摄取/向量化管道。
package pipeline

import (
	"strings"
	"unicode"
)

// tokensPerWord 是 token 预算到单词预算的近似换算比例。
// 设计上接受近似而非精确的 token 计数。
const tokensPerWord = 0.75

// TextChunk 是提取文本的一个分块，仅存在于内存中，是向量化的最小单位。
// CharStart/CharEnd 是相对原文的尽力而为的字符偏移：重叠拷贝经过
// 单词级拼接，偏移不保证逐字节精确，只用于溯源展示。
type TextChunk struct {
	Content      string
	SegmentIndex int
	CharStart    int
	CharEnd      int
}

// Chunk 将长文本按句子边界切分为带重叠的有界分块。
// chunkSizeTokens 是单块的目标 token 数，overlapTokens 是相邻分块的重叠预算。
// 空白输入直接返回空结果，不报错。
func Chunk(text string, chunkSizeTokens, overlapTokens int) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	wordBudget := int(float64(chunkSizeTokens) / tokensPerWord)
	if wordBudget < 1 {
		wordBudget = 1
	}
	overlapBudget := int(float64(overlapTokens) / tokensPerWord)
	if overlapBudget < 0 {
		overlapBudget = 0
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []TextChunk
	var current []string
	currentWords := 0
	// cursor 指向当前分块在原文中的起始位置（尽力而为）
	cursor := len(text) - len(strings.TrimLeft(text, " \t\r\n"))

	for _, sentence := range sentences {
		words := countWords(sentence)

		// 贪心累积整句，加入下一句会超出预算时关闭当前分块
		if currentWords > 0 && currentWords+words > wordBudget {
			content := strings.Join(current, " ")
			chunks = append(chunks, TextChunk{
				Content:      content,
				SegmentIndex: len(chunks),
				CharStart:    cursor,
				CharEnd:      cursor + len(content),
			})

			// 从已关闭分块的尾部反向累积句子作为重叠窗口
			overlap, overlapWords := tailOverlap(current, overlapBudget)
			overlapText := strings.Join(overlap, " ")
			// 新分块的游标 = 上一分块的结束偏移减去重叠文本长度，
			// 让相邻分块的字符区间相交而不是相离
			cursor = cursor + len(content) - len(overlapText)
			current = overlap
			currentWords = overlapWords
		}

		current = append(current, sentence)
		currentWords += words
	}

	// 剩余内容构成最后一个分块，即使小于目标大小也要输出
	if content := strings.Join(current, " "); strings.TrimSpace(content) != "" {
		chunks = append(chunks, TextChunk{
			Content:      content,
			SegmentIndex: len(chunks),
			CharStart:    cursor,
			CharEnd:      cursor + len(content),
		})
	}

	return chunks
}

// splitSentences 使用边界启发式切分句子：一个句子是一段以 . ! ? 之一
// 结尾且后跟空白（或文本结束）的最长非终结符序列；没有终结符时，
// 余下的全部文本算作一个句子。返回的句子均已去除首尾空白且非空。
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// 终结符后必须跟空白（或到达文本末尾）才构成句子边界，
		// 避免把 "3.14" 这类内容切开
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// tailOverlap 从句子列表尾部反向取句，直到满足重叠单词预算或取完为止。
func tailOverlap(sentences []string, overlapBudget int) ([]string, int) {
	if overlapBudget <= 0 {
		return nil, 0
	}

	var overlap []string
	words := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		w := countWords(sentences[i])
		if words > 0 && words+w > overlapBudget {
			break
		}
		overlap = append([]string{sentences[i]}, overlap...)
		words += w
		if words >= overlapBudget {
			break
		}
	}
	return overlap, words
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
