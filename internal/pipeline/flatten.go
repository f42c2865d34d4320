package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FlattenResearchReport 将 JSON 研究报告扁平化为一段可向量化的纯文本：
// 递归拼接所有叶子值，前面加上一个由结构化元数据组成的小标题。
// JSON 无法解析时返回错误（内容性问题，重试不会成功，由调用方判定终态）。
func FlattenResearchReport(raw []byte, sourceName, company, label string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("研究报告不是合法的 JSON: %w", err)
	}

	var b strings.Builder
	b.WriteString("Source: " + sourceName + "\n")
	if company != "" {
		b.WriteString("Company: " + company + "\n")
	}
	if label != "" {
		b.WriteString("Category: " + label + "\n")
	}
	b.WriteString("\n")

	flattenValue(&b, doc)

	text := strings.TrimSpace(b.String())
	return text, nil
}

// flattenValue 是对 JSON 标记联合 {string, number, boolean, array, object, null}
// 的类型化递归访问器。数字和布尔值会被显式字符串化而不是丢弃；
// 对象按键名排序遍历，保证同一份报告总是产出同一段文本。
func flattenValue(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
		b.WriteString("\n")
	case bool:
		b.WriteString(strconv.FormatBool(val))
		b.WriteString("\n")
	case []interface{}:
		for _, item := range val {
			flattenValue(b, item)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(b, val[k])
		}
	case nil:
		// null 没有可向量化的内容
	}
}
