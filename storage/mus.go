package storage

import (
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/medvault/core"
)

// Hand-written MUS serializers for the persisted types. Field order is
// part of the storage format and must not change between releases.

// TokenMUS serializes a core.Token as 16 raw bytes.
var TokenMUS = tokenMUS{}

type tokenMUS struct{}

func (tokenMUS) Marshal(v core.Token, bs []byte) (n int) {
	return copy(bs, v[:])
}

func (tokenMUS) Unmarshal(bs []byte) (v core.Token, n int, err error) {
	if len(bs) < core.TokenSize {
		err = ErrTruncatedData
		return
	}
	copy(v[:], bs[:core.TokenSize])
	n = core.TokenSize
	return
}

func (tokenMUS) Size(core.Token) int {
	return core.TokenSize
}

// EncryptedEntryMUS serializes a core.EncryptedEntry.
var EncryptedEntryMUS = encryptedEntryMUS{}

type encryptedEntryMUS struct{}

func (encryptedEntryMUS) Marshal(v core.EncryptedEntry, bs []byte) (n int) {
	n = TokenMUS.Marshal(v.Token, bs)
	n += ord.ByteSlice.Marshal(v.CiphertextVector, bs[n:])
	n += ord.ByteSlice.Marshal(v.CiphertextPayload, bs[n:])
	n += varint.Uint32.Marshal(v.Bucket, bs[n:])
	n += varint.Uint32.Marshal(v.IndexVersion, bs[n:])
	n += varint.Uint64.Marshal(v.Seq, bs[n:])
	n += ord.Bool.Marshal(v.Tombstone, bs[n:])
	n += raw.TimeUnixMicro.Marshal(v.InsertedAt, bs[n:])
	return
}

func (encryptedEntryMUS) Unmarshal(bs []byte) (v core.EncryptedEntry, n int, err error) {
	var n1 int
	v.Token, n, err = TokenMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	v.CiphertextVector, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CiphertextPayload, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Bucket, n1, err = varint.Uint32.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.IndexVersion, n1, err = varint.Uint32.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Seq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Tombstone, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = raw.TimeUnixMicro.Unmarshal(bs[n:])
	n += n1
	return
}

func (encryptedEntryMUS) Size(v core.EncryptedEntry) (size int) {
	size = TokenMUS.Size(v.Token)
	size += ord.ByteSlice.Size(v.CiphertextVector)
	size += ord.ByteSlice.Size(v.CiphertextPayload)
	size += varint.Uint32.Size(v.Bucket)
	size += varint.Uint32.Size(v.IndexVersion)
	size += varint.Uint64.Size(v.Seq)
	size += ord.Bool.Size(v.Tombstone)
	size += raw.TimeUnixMicro.Size(v.InsertedAt)
	return
}

// AuditEventMUS serializes a core.AuditEvent. The ledger also uses this
// serializer (with an empty Hash field) as the hash-chain preimage, so
// any field change here invalidates existing chains.
var AuditEventMUS = auditEventMUS{}

type auditEventMUS struct{}

func (auditEventMUS) Marshal(v core.AuditEvent, bs []byte) (n int) {
	n = varint.Uint64.Marshal(v.Seq, bs)
	n += raw.TimeUnixMicro.Marshal(v.Timestamp, bs[n:])
	n += varint.Int.Marshal(int(v.Operation), bs[n:])
	n += ord.String.Marshal(v.RequestID, bs[n:])
	n += ord.String.Marshal(v.ActorHash, bs[n:])
	n += ord.String.Marshal(v.QueryHash, bs[n:])
	n += varint.Int.Marshal(v.QueryLen, bs[n:])
	n += varint.Int.Marshal(int(v.Outcome), bs[n:])
	n += ord.String.Marshal(v.FailureKind, bs[n:])
	n += raw.Float64.Marshal(v.LatencyMS, bs[n:])
	n += varint.Uint64.Marshal(v.RefSeq, bs[n:])
	n += ord.ByteSlice.Marshal(v.PrevHash, bs[n:])
	n += ord.ByteSlice.Marshal(v.Hash, bs[n:])
	return
}

func (auditEventMUS) Unmarshal(bs []byte) (v core.AuditEvent, n int, err error) {
	var n1 int
	v.Seq, n, err = varint.Uint64.Unmarshal(bs)
	if err != nil {
		return
	}
	v.Timestamp, n1, err = raw.TimeUnixMicro.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var op int
	op, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Operation = core.Operation(op)
	v.RequestID, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ActorHash, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.QueryHash, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.QueryLen, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var outcome int
	outcome, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Outcome = core.Outcome(outcome)
	v.FailureKind, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.LatencyMS, n1, err = raw.Float64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.RefSeq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.PrevHash, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Hash, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	return
}

func (auditEventMUS) Size(v core.AuditEvent) (size int) {
	size = varint.Uint64.Size(v.Seq)
	size += raw.TimeUnixMicro.Size(v.Timestamp)
	size += varint.Int.Size(int(v.Operation))
	size += ord.String.Size(v.RequestID)
	size += ord.String.Size(v.ActorHash)
	size += ord.String.Size(v.QueryHash)
	size += varint.Int.Size(v.QueryLen)
	size += varint.Int.Size(int(v.Outcome))
	size += ord.String.Size(v.FailureKind)
	size += raw.Float64.Size(v.LatencyMS)
	size += varint.Uint64.Size(v.RefSeq)
	size += ord.ByteSlice.Size(v.PrevHash)
	size += ord.ByteSlice.Size(v.Hash)
	return
}

// IndexStateMUS serializes a core.IndexState.
var IndexStateMUS = indexStateMUS{}

type indexStateMUS struct{}

func (indexStateMUS) Marshal(v core.IndexState, bs []byte) (n int) {
	n = varint.Int.Marshal(v.Dimension, bs)
	n += varint.Uint32.Marshal(v.IndexVersion, bs[n:])
	n += varint.Uint64.Marshal(v.NextSeq, bs[n:])
	n += ord.ByteSlice.Marshal(v.SealedCentroids, bs[n:])
	return
}

func (indexStateMUS) Unmarshal(bs []byte) (v core.IndexState, n int, err error) {
	var n1 int
	v.Dimension, n, err = varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	v.IndexVersion, n1, err = varint.Uint32.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.NextSeq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.SealedCentroids, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	return
}

func (indexStateMUS) Size(v core.IndexState) (size int) {
	size = varint.Int.Size(v.Dimension)
	size += varint.Uint32.Size(v.IndexVersion)
	size += varint.Uint64.Size(v.NextSeq)
	size += ord.ByteSlice.Size(v.SealedCentroids)
	return
}
