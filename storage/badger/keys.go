package badger

import (
	"encoding/binary"

	"github.com/poiesic/medvault/core"
)

// Key prefixes for different data types
const (
	entryPrefix       = "encent"
	entryBucketPrefix = "encentb"
	auditEventPrefix  = "audevt"
	indexStateKey     = "idxstate"
)

// makeEntryKey generates a key for an encrypted entry by token.
func makeEntryKey(token core.Token) []byte {
	prefix := entryPrefix + ":"
	buf := make([]byte, len(prefix)+core.TokenSize)
	offset := copy(buf, prefix)
	copy(buf[offset:], token[:])
	return buf
}

// makeEntryBucketKey generates a composite key for the bucket index.
// Format: prefix:bucket:token
func makeEntryBucketKey(bucket uint32, token core.Token) []byte {
	prefix := entryBucketPrefix + ":"
	buf := make([]byte, len(prefix)+4+core.TokenSize)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort groups buckets
	binary.BigEndian.PutUint32(buf[offset:], bucket)
	offset += 4
	copy(buf[offset:], token[:])
	return buf
}

// makePartialEntryBucketKey generates a partial key for scanning one bucket.
func makePartialEntryBucketKey(bucket uint32) []byte {
	prefix := entryBucketPrefix + ":"
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], bucket)
	return buf
}

// makeAuditEventKey generates a key for an audit event by sequence number.
// BigEndian so iteration over the prefix yields events in append order.
func makeAuditEventKey(seq uint64) []byte {
	prefix := auditEventPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeIndexStateKey generates the key for the index state blob.
func makeIndexStateKey() []byte {
	return []byte(indexStateKey)
}
