package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// TokenSize is the byte length of a record token (128 bits).
const TokenSize = 16

// Token is an opaque pseudonymous identifier for a record.
// It is derived one-way from the source identifier and the deployment's
// anonymization salt, so repeat ingestion of the same source record is
// idempotent without the source identifier ever being stored.
type Token [TokenSize]byte

// TokenFromSource derives a token from a source identifier using keyed
// BLAKE2b. The same (salt, source) pair always yields the same token.
func TokenFromSource(salt []byte, source string) Token {
	h, _ := blake2b.New(TokenSize, salt)
	h.Write([]byte(source))
	var t Token
	copy(t[:], h.Sum(nil))
	return t
}

// ParseToken decodes a token from its hex form.
func ParseToken(s string) (Token, error) {
	var t Token
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(b) != TokenSize {
		return t, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidToken, len(b), TokenSize)
	}
	copy(t[:], b)
	return t, nil
}

func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether the token is the zero value.
func (t Token) IsZero() bool {
	return t == Token{}
}

// Record is a PHI-free record ready for embedding and indexing.
// Records are immutable once inserted; deletion is a tombstone operation.
type Record struct {
	Token     Token
	Text      string            // scrubbed free text
	Embedding []float32         // fixed dimension per index
	Metadata  map[string]string // non-identifying tags only
}

// EncryptedEntry is the at-rest form of a record inside the index.
// The vector and payload are ciphertext; only the bucket assignment and
// insertion sequence are visible to storage.
type EncryptedEntry struct {
	Token             Token
	CiphertextVector  []byte // nonce || ciphertext || tag
	CiphertextPayload []byte // sealed text + metadata
	Bucket            uint32
	IndexVersion      uint32
	Seq               uint64 // insertion order, used for tie-breaks
	Tombstone         bool
	InsertedAt        time.Time
}

// IndexState is the persisted structural state of an encrypted index.
// Centroids are sealed under the index key like everything else.
type IndexState struct {
	Dimension       int
	IndexVersion    uint32
	NextSeq         uint64
	SealedCentroids []byte
}

// Operation identifies a privileged operation against the index.
type Operation int

const (
	OperationInsert Operation = iota + 1
	OperationQuery
	OperationDelete
	OperationCompact
)

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "insert"
	case OperationQuery:
		return "query"
	case OperationDelete:
		return "delete"
	case OperationCompact:
		return "compact"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Outcome records whether an audited operation succeeded.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AuditEvent is one entry in the append-only audit ledger.
//
// Hash = BLAKE2b-256(PrevHash || serialize(event with empty Hash)), so any
// retroactive change to a stored event invalidates every later hash.
// Actor and query content are stored as truncated hashes, never in the
// clear.
type AuditEvent struct {
	Seq         uint64
	Timestamp   time.Time
	Operation   Operation
	RequestID   string // correlates the event with an engine request
	ActorHash   string
	QueryHash   string
	QueryLen    int
	Outcome     Outcome
	FailureKind string // empty on success
	LatencyMS   float64
	RefSeq      uint64 // non-zero when this event corrects a prior one
	PrevHash    []byte
	Hash        []byte
}

// SearchResult is a ranked query hit with its decrypted payload.
// Score is cosine similarity in [-1, 1].
type SearchResult struct {
	Token    Token
	Score    float32
	Text     string
	Metadata map[string]string
}
