package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAndString(t *testing.T) {
	d := ComputeBytes([]byte("hello world"))
	assert.True(t, d.TrustSize)
	assert.EqualValues(t, 11, d.Size)
	assert.Len(t, d.HashString(), 64)
	assert.Equal(t, d.HashString()+"-11", d.String())
}

func TestComputeMatchesComputeBytes(t *testing.T) {
	data := []byte("the quick brown fox")
	streamed, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, streamed.Equal(ComputeBytes(data)))
}

func TestFromHexRoundTrip(t *testing.T) {
	d := ComputeBytes([]byte("payload"))
	parsed, err := FromHex(d.HashString(), d.Size)
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))
	assert.False(t, parsed.TrustSize)
}

func TestFromHexInvalid(t *testing.T) {
	_, err := FromHex("not-hex", 3)
	assert.Error(t, err)

	_, err = FromHex("ab", 1)
	assert.Error(t, err)
}

func TestEqualityIgnoresTrustSize(t *testing.T) {
	a := Digest{Hash: [HashSize]byte{1}, Size: 4, TrustSize: true}
	b := Digest{Hash: [HashSize]byte{1}, Size: 4, TrustSize: false}
	assert.True(t, a.Equal(b))
}

func TestEmpty(t *testing.T) {
	assert.True(t, Digest{}.Empty())
	assert.False(t, ComputeBytes([]byte("x")).Empty())
}
