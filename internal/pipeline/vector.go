package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeVector 将向量编码为存储层期望的带括号逗号分隔字面量，
// 如 "[0.12,-0.5,1]"。这是存储边界上的约定，下游的相似度检索
// 依赖这个编码被准确还原，所以必须保证往返无损。
func EncodeVector(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeVector 解析 EncodeVector 产出的字面量。
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("非法的向量字面量: %q", truncateForError(s))
	}

	inner := s[1 : len(s)-1]
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("向量第 %d 个分量解析失败: %w", i, err)
		}
		vector[i] = float32(f)
	}
	return vector, nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
