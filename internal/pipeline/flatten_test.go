package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenResearchReport(t *testing.T) {
	raw := []byte(`{
		"summary": "Revenue grew strongly in the quarter.",
		"metrics": {"growth_pct": 12.5, "profitable": true},
		"highlights": ["New factory opened.", "Headcount stable."],
		"internal_ref": null
	}`)

	text, err := FlattenResearchReport(raw, "acme-q2.json", "Acme", "earnings")
	require.NoError(t, err)

	assert.Contains(t, text, "Source: acme-q2.json")
	assert.Contains(t, text, "Company: Acme")
	assert.Contains(t, text, "Category: earnings")
	assert.Contains(t, text, "Revenue grew strongly in the quarter.")
	assert.Contains(t, text, "New factory opened.")
	assert.Contains(t, text, "12.5", "数字叶子值应被字符串化而不是丢弃")
	assert.Contains(t, text, "true", "布尔叶子值应被字符串化而不是丢弃")
}

func TestFlattenResearchReportIsDeterministic(t *testing.T) {
	// 对象键乱序给出，扁平化结果必须稳定
	raw := []byte(`{"zebra": "last value", "alpha": "first value", "middle": "middle value"}`)

	first, err := FlattenResearchReport(raw, "r.json", "", "")
	require.NoError(t, err)
	second, err := FlattenResearchReport(raw, "r.json", "", "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Less(t, strings.Index(first, "first value"), strings.Index(first, "middle value"))
	assert.Less(t, strings.Index(first, "middle value"), strings.Index(first, "last value"))
}

func TestFlattenResearchReportOmitsEmptyMetadata(t *testing.T) {
	text, err := FlattenResearchReport([]byte(`{"body": "content"}`), "plain.json", "", "")
	require.NoError(t, err)

	assert.Contains(t, text, "Source: plain.json")
	assert.NotContains(t, text, "Company:")
	assert.NotContains(t, text, "Category:")
}

func TestFlattenResearchReportRejectsMalformedJSON(t *testing.T) {
	_, err := FlattenResearchReport([]byte(`{"broken":`), "bad.json", "", "")
	assert.Error(t, err)
}
