package seal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/medvault/core"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealOpenRoundtrip(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	plaintext := []byte("progress note: stable, continue current meds")
	sealed, err := s.Seal(bytes.Clone(plaintext))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "progress note")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealNonceUnique(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	a, err := s.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same input"))
	require.NoError(t, err)

	// Fresh nonce per call, so identical plaintext never repeats on disk
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("dose: 5mg"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = s.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	s1, err := NewSealer(testKey())
	require.NoError(t, err)

	other := testKey()
	other[0] ^= 0xff
	s2, err := NewSealer(other)
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsTruncated(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	_, err = s.Open([]byte{0x01, 0x02})
	assert.True(t, errors.Is(err, ErrCiphertextTooShort))
}

func TestSealVectorRoundtrip(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	vector := []float32{0.25, -1.5, 0, 3.75}
	sealed, err := s.SealVector(vector)
	require.NoError(t, err)

	opened, err := s.OpenVector(sealed)
	require.NoError(t, err)
	assert.Equal(t, vector, opened)
}

func TestNewSealerRejectsBadKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.True(t, errors.Is(err, core.ErrKeyUnavailable))

	_, err = NewSealer(nil)
	assert.True(t, errors.Is(err, core.ErrKeyUnavailable))
}

func TestParseKey(t *testing.T) {
	raw := string(testKey())
	key, err := ParseKey(raw)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	hexKey := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	key, err = ParseKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	_, err = ParseKey("not-a-key")
	assert.True(t, errors.Is(err, core.ErrKeyUnavailable))
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)

	v := []float32{1.5, -2.5}
	ZeroVector(v)
	assert.Equal(t, []float32{0, 0}, v)
}
