// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrMissingFields indicates a raw record is missing required fields.
	ErrMissingFields = errors.New("required fields missing")

	// ErrInvalidToken indicates a malformed record token.
	ErrInvalidToken = errors.New("invalid record token")

	// ErrEmbeddingShape indicates an embedding with the wrong dimension or
	// non-finite values. The request is rejected before it reaches the index.
	ErrEmbeddingShape = errors.New("embedding has invalid shape")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexNotReady indicates an operation on an uninitialized index.
	ErrIndexNotReady = errors.New("index not ready")

	// ErrKeyUnavailable indicates the index encryption key could not be
	// loaded. This is fatal to the index instance; there is no fallback to
	// unencrypted storage.
	ErrKeyUnavailable = errors.New("encryption key unavailable")

	// ErrIntegrity indicates an audit hash-chain verification failure.
	// Never auto-repaired.
	ErrIntegrity = errors.New("audit chain integrity violation")

	// ErrLedgerHalted indicates the ledger refuses writes after an
	// integrity failure, pending operator intervention.
	ErrLedgerHalted = errors.New("audit ledger halted")

	// ErrInvalidRange indicates invalid sequence bounds for an audit
	// export or verification.
	ErrInvalidRange = errors.New("invalid sequence range")
)

// Kind classifies an error for audit records and the caller boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindExternal
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExternal:
		return "external"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Classify maps an error to its kind per the recovery policy: validation
// errors are rejected locally, external errors may be retried when
// transient, integrity errors halt the ledger.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrEmbeddingShape),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidRange):
		return KindValidation
	case errors.Is(err, ErrKeyUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindExternal
	case errors.Is(err, ErrIntegrity), errors.Is(err, ErrLedgerHalted):
		return KindIntegrity
	default:
		return KindInternal
	}
}

// StageError is the typed error surfaced at the engine boundary. It names
// the pipeline stage that failed and the error's kind.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with its stage and classified kind.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: Classify(err), Err: err}
}
