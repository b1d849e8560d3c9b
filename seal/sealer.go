// Package seal provides the index's bounded decryption scope. Vectors and
// payloads are sealed with AES-256-GCM before they reach storage; the
// decrypted form of an entry exists only transiently, in working memory,
// and callers zeroize plaintext buffers on every exit path.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/poiesic/medvault/core"
)

// KeySize is the required symmetric key length (AES-256).
const KeySize = 32

// ErrCiphertextTooShort indicates a ciphertext shorter than its nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer encrypts and decrypts index entries under a single symmetric
// key. One Sealer per index. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from 32 bytes of key material.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", core.ErrKeyUnavailable, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrKeyUnavailable, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrKeyUnavailable, err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. Output layout: nonce || ciphertext || tag.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed buffer. The caller owns the returned plaintext
// and must Zero it when done.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrCiphertextTooShort
	}
	return s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
}

// SealVector encodes a float32 vector as little-endian bytes and seals it.
// The intermediate plaintext encoding is zeroized before returning.
func (s *Sealer) SealVector(v []float32) ([]byte, error) {
	plain := encodeVector(v)
	defer Zero(plain)
	return s.Seal(plain)
}

// OpenVector decrypts a sealed vector. The caller must ZeroVector the
// result when done with it.
func (s *Sealer) OpenVector(sealed []byte) ([]float32, error) {
	plain, err := s.Open(sealed)
	if err != nil {
		return nil, err
	}
	defer Zero(plain)
	if len(plain)%4 != 0 {
		return nil, fmt.Errorf("sealed vector has invalid length %d", len(plain))
	}
	v := make([]float32, len(plain)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(plain[i*4:]))
	}
	return v, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// Zero overwrites a plaintext buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroVector overwrites a plaintext vector.
func ZeroVector(v []float32) {
	for i := range v {
		v[i] = 0
	}
}
