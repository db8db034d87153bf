package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumSmallFileMatchesPlainHash(t *testing.T) {
	content := []byte("hello unishare")

	digest, err := Sum(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestSumIsDeterministic(t *testing.T) {
	content := bytes.Repeat([]byte{0xab, 0xcd}, 4096)

	first, err := Sum(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	second, err := Sum(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSampledDigestUsedAboveThreshold(t *testing.T) {
	content := bytes.Repeat([]byte{0x42}, 3*1024*1024)
	size := int64(len(content))

	sampled, err := SumWithThreshold(bytes.NewReader(content), size, 1024)
	require.NoError(t, err)
	full, err := SumWithThreshold(bytes.NewReader(content), size, size+1)
	require.NoError(t, err)

	assert.NotEqual(t, full, sampled)
}

func TestSampledDigestSeesMiddleBytes(t *testing.T) {
	content := bytes.Repeat([]byte{0x00}, 3*1024*1024)
	size := int64(len(content))

	base, err := SumWithThreshold(bytes.NewReader(content), size, 1024)
	require.NoError(t, err)

	// Flip one byte inside the middle sample window.
	modified := append([]byte(nil), content...)
	modified[size/2+100] = 0xff

	changed, err := SumWithThreshold(bytes.NewReader(modified), size, 1024)
	require.NoError(t, err)

	assert.NotEqual(t, base, changed)
}

func TestSampledDigestIncludesSize(t *testing.T) {
	content := bytes.Repeat([]byte{0x01}, 3*1024*1024)

	a, err := SumWithThreshold(bytes.NewReader(content), int64(len(content)), 1024)
	require.NoError(t, err)

	// Same readable bytes, different declared size.
	b, err := SumWithThreshold(bytes.NewReader(content), int64(len(content))+1, 1024)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
