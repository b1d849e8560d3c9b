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


package storage

import (
	"github.com/poiesic/medvault/core"
)

// MarshalEncryptedEntry serializes an EncryptedEntry to bytes.
func MarshalEncryptedEntry(entry *core.EncryptedEntry) []byte {
	buf := make([]byte, EncryptedEntryMUS.Size(*entry))
	EncryptedEntryMUS.Marshal(*entry, buf)
	return buf
}

// UnmarshalEncryptedEntry deserializes an EncryptedEntry from bytes.
func UnmarshalEncryptedEntry(data []byte) (*core.EncryptedEntry, error) {
	entry, _, err := EncryptedEntryMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarshalAuditEvent serializes an AuditEvent to bytes.
func MarshalAuditEvent(event *core.AuditEvent) []byte {
	buf := make([]byte, AuditEventMUS.Size(*event))
	AuditEventMUS.Marshal(*event, buf)
	return buf
}

// UnmarshalAuditEvent deserializes an AuditEvent from bytes.
func UnmarshalAuditEvent(data []byte) (*core.AuditEvent, error) {
	event, _, err := AuditEventMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarshalIndexState serializes an IndexState to bytes.
func MarshalIndexState(state *core.IndexState) []byte {
	buf := make([]byte, IndexStateMUS.Size(*state))
	IndexStateMUS.Marshal(*state, buf)
	return buf
}

// UnmarshalIndexState deserializes an IndexState from bytes.
func UnmarshalIndexState(data []byte) (*core.IndexState, error) {
	state, _, err := IndexStateMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &state, nil
}
