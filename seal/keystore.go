package seal

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/poiesic/medvault/core"
)

// LoadKeyFile reads 32 bytes of key material from a file. The file holds
// either raw key bytes or their hex encoding. A missing or malformed key
// is fatal to the index instance; there is no unencrypted fallback.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrKeyUnavailable, err)
	}
	return ParseKey(strings.TrimSpace(string(data)))
}

// ParseKey decodes key material from a hex string, or accepts raw bytes
// of the right length.
func ParseKey(s string) ([]byte, error) {
	if len(s) == KeySize {
		return []byte(s), nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: key is neither %d raw bytes nor valid hex: %v", core.ErrKeyUnavailable, KeySize, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decoded key is %d bytes, want %d", core.ErrKeyUnavailable, len(key), KeySize)
	}
	return key, nil
}
