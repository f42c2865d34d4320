package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.123456, -0.5, 0, 1, -3.14159, 1e-7}

	encoded := EncodeVector(original)
	decoded, err := DecodeVector(encoded)

	require.NoError(t, err)
	assert.Equal(t, original, decoded, "编码后再解码必须无损还原")
}

func TestEncodeVectorFormat(t *testing.T) {
	assert.Equal(t, "[0.1,-0.5,1]", EncodeVector([]float32{0.1, -0.5, 1}))
	assert.Equal(t, "[]", EncodeVector(nil))
}

func TestDecodeVectorEmpty(t *testing.T) {
	decoded, err := DecodeVector("[]")
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeVectorRejectsMalformedLiterals(t *testing.T) {
	for _, input := range []string{"", "0.1,0.2", "[0.1,0.2", "0.1,0.2]", "[a,b]", "[0.1,,0.2]"} {
		_, err := DecodeVector(input)
		assert.Error(t, err, "输入 %q 应当解析失败", input)
	}
}
