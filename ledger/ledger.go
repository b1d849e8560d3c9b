// Package ledger implements the append-only, tamper-evident audit log.
// Every privileged operation against the index produces exactly one
// event, success or failure. Events form a hash chain: each integrity
// hash covers the previous hash and the serialized event, so altering
// any stored event invalidates every hash after it.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

const chainHashSize = 32

// Fields describes an operation to be audited. Actor and query content
// are hashed before storage; the ledger never persists them in the clear.
type Fields struct {
	Operation   core.Operation
	RequestID   string
	ActorID     string
	Query       string
	Outcome     core.Outcome
	FailureKind string // empty on success
	LatencyMS   float64
	RefSeq      uint64 // set when this event corrects a prior one
}

// Ledger is the audit ledger for one index. The append path is strictly
// serialized: the sequence counter and hash-chain tail advance under one
// mutex scoped to compute-hash, write, advance-tail.
type Ledger struct {
	mu      sync.Mutex
	repo    storage.AuditRepository
	tail    []byte
	nextSeq uint64
	halted  bool
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
	}
}

// Open creates a ledger over the repository, recovering the chain tail
// from the last stored event.
func Open(repo storage.AuditRepository, opts ...Option) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}

	l := &Ledger{
		repo:    repo,
		nextSeq: 1,
		logger:  slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := repo.LastAuditEvent(context.Background())
	if err != nil {
		return nil, err
	}
	if last != nil {
		l.nextSeq = last.Seq + 1
		l.tail = bytes.Clone(last.Hash)
		l.logger.Info("recovered audit chain tail", "seq", last.Seq)
	}
	return l, nil
}

// Record appends one audit event for an operation attempt. The event is
// flushed to stable storage before Record returns it. Returns
// ErrLedgerHalted after an unresolved integrity failure.
func (l *Ledger) Record(ctx context.Context, f Fields) (*core.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return nil, core.ErrLedgerHalted
	}

	event := &core.AuditEvent{
		Seq:         l.nextSeq,
		Timestamp:   time.Now().UTC(),
		Operation:   f.Operation,
		RequestID:   f.RequestID,
		ActorHash:   hashPII(f.ActorID),
		QueryHash:   hashPII(f.Query),
		QueryLen:    len(f.Query),
		Outcome:     f.Outcome,
		FailureKind: f.FailureKind,
		LatencyMS:   f.LatencyMS,
		RefSeq:      f.RefSeq,
		PrevHash:    bytes.Clone(l.tail),
	}
	event.Hash = chainHash(l.tail, event)

	if err := l.repo.AppendAuditEvent(ctx, event); err != nil {
		return nil, err
	}

	l.tail = event.Hash
	l.nextSeq++
	return event, nil
}

// RecordCorrection appends a correction event referencing a prior one.
// The corrected event itself is never edited or removed.
func (l *Ledger) RecordCorrection(ctx context.Context, refSeq uint64, f Fields) (*core.AuditEvent, error) {
	if refSeq == 0 {
		return nil, fmt.Errorf("%w: correction must reference a prior event", core.ErrInvalidRange)
	}
	f.RefSeq = refSeq
	return l.Record(ctx, f)
}

// VerifyChain recomputes the hash chain over from <= Seq <= to and
// reports whether it matches the stored hashes. A range containing no
// events verifies trivially. On mismatch the ledger halts further writes
// until Resume succeeds.
func (l *Ledger) VerifyChain(ctx context.Context, from, to uint64) (bool, error) {
	if from > to {
		return false, fmt.Errorf("%w: from %d > to %d", core.ErrInvalidRange, from, to)
	}

	events, err := l.repo.AuditEventRange(ctx, from, to)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return true, nil
	}

	running := events[0].PrevHash
	prevSeq := events[0].Seq - 1
	for _, event := range events {
		if event.Seq != prevSeq+1 {
			l.halt("audit sequence gap", event.Seq)
			return false, nil
		}
		if !bytes.Equal(event.PrevHash, running) {
			l.halt("audit chain break: prev hash mismatch", event.Seq)
			return false, nil
		}
		if !bytes.Equal(event.Hash, chainHash(running, event)) {
			l.halt("audit chain break: event hash mismatch", event.Seq)
			return false, nil
		}
		running = event.Hash
		prevSeq = event.Seq
	}
	return true, nil
}

// Resume re-verifies the full chain after operator intervention and
// lifts the write halt if the chain is intact.
func (l *Ledger) Resume(ctx context.Context) error {
	l.mu.Lock()
	lastSeq := l.nextSeq - 1
	l.mu.Unlock()

	if lastSeq >= 1 {
		ok, err := l.verifyRange(ctx, 1, lastSeq)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: chain still broken", core.ErrIntegrity)
		}
	}

	l.mu.Lock()
	l.halted = false
	l.mu.Unlock()
	l.logger.Warn("audit ledger resumed after operator intervention")
	return nil
}

// verifyRange recomputes without halting side effects.
func (l *Ledger) verifyRange(ctx context.Context, from, to uint64) (bool, error) {
	events, err := l.repo.AuditEventRange(ctx, from, to)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return true, nil
	}
	running := events[0].PrevHash
	prevSeq := events[0].Seq - 1
	for _, event := range events {
		if event.Seq != prevSeq+1 ||
			!bytes.Equal(event.PrevHash, running) ||
			!bytes.Equal(event.Hash, chainHash(running, event)) {
			return false, nil
		}
		running = event.Hash
		prevSeq = event.Seq
	}
	return true, nil
}

// Export returns the stored events with from <= Seq <= to, in append
// order, for regulatory review.
func (l *Ledger) Export(ctx context.Context, from, to uint64) ([]core.AuditEvent, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d > to %d", core.ErrInvalidRange, from, to)
	}
	stored, err := l.repo.AuditEventRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	events := make([]core.AuditEvent, len(stored))
	for i, event := range stored {
		events[i] = *event
	}
	return events, nil
}

// Halted reports whether the ledger refuses writes pending operator
// intervention.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// LastSeq returns the sequence number of the most recent event, or 0 if
// the ledger is empty.
func (l *Ledger) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

func (l *Ledger) halt(reason string, seq uint64) {
	l.mu.Lock()
	l.halted = true
	l.mu.Unlock()
	l.logger.Error(reason, "seq", seq)
}

// chainHash computes BLAKE2b-256 over prev || serialize(event with empty
// Hash).
func chainHash(prev []byte, event *core.AuditEvent) []byte {
	preimage := *event
	preimage.Hash = nil
	h, _ := blake2b.New(chainHashSize, nil)
	h.Write(prev)
	h.Write(storage.MarshalAuditEvent(&preimage))
	return h.Sum(nil)
}

// hashPII hashes potentially identifying content down to a short hex
// digest, following the rule that the ledger stores who and what only in
// hashed form. Empty input stays empty.
func hashPII(s string) string {
	if s == "" {
		return ""
	}
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
