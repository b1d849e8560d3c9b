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
	"fmt"
	"math"
)

// ValidateVector validates that a vector matches the index dimension and
// contains only finite values.
//
// A vector failing this check must never reach the encrypted index.
func ValidateVector(v []float32, dimension int) error {
	if len(v) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dimension)
	}
	for i, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrEmbeddingShape, i)
		}
	}
	return nil
}

// ValidateRecord validates a Record before insertion.
//
// Validation rules:
//   - Token must be set
//   - Embedding must match the index dimension with finite values
//
// NOT validated:
//   - Text (may be empty for metadata-only records)
//   - Metadata (scrubbing is the anonymizer's responsibility)
func ValidateRecord(record *Record, dimension int) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrMissingFields)
	}
	if record.Token.IsZero() {
		return fmt.Errorf("%w: record token is unset", ErrInvalidToken)
	}
	return ValidateVector(record.Embedding, dimension)
}
