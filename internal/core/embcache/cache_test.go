package embcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBytesRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.1415927, -2.5e7}

	out, err := bytesToVector(vectorToBytes(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestVectorBytesEmpty(t *testing.T) {
	out, err := bytesToVector(vectorToBytes(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBytesToVectorRejectsTruncatedPayload(t *testing.T) {
	_, err := bytesToVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCacheKeyIsStableAndPrefixed(t *testing.T) {
	k1 := cacheKey("some chunk of text")
	k2 := cacheKey("some chunk of text")
	k3 := cacheKey("different text")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, keyPrefix))
}
