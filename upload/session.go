// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package upload

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/pingcap-incubator/testcollector-go/batch"
)

// State is the progress of a single batch upload.
type State int

const (
	StateIdle State = iota
	StateRequestingSlot
	StateUploading
	StateAcknowledged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingSlot:
		return "requesting_slot"
	case StateUploading:
		return "uploading"
	case StateAcknowledged:
		return "acknowledged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Slot is the destination issued by the service for one batch.
type Slot struct {
	ID        string            `json:"id"`
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
}

// session carries one batch through the upload state machine. The body
// is prepared once so every try transmits the same bytes.
type session struct {
	batch      batch.Batch
	body       []byte
	compressed bool

	state          State
	slot           Slot
	slotAttempts   int
	uploadAttempts int
	err            error
}

func newSession(b batch.Batch, compress bool) (*session, error) {
	s := &session{batch: b, body: b.Payload}
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(b.Payload); err != nil {
			return nil, fmt.Errorf("upload: compress batch %s: %w", b.ID, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("upload: compress batch %s: %w", b.ID, err)
		}
		s.body = buf.Bytes()
		s.compressed = true
	}
	return s, nil
}

func (s *session) fail(err error) error {
	s.state = StateFailed
	s.err = err
	return err
}

func (s *session) outcome() Outcome {
	return Outcome{
		BatchID:        s.batch.ID,
		Traces:         s.batch.Len(),
		State:          s.state,
		Slot:           s.slot,
		SlotAttempts:   s.slotAttempts,
		UploadAttempts: s.uploadAttempts,
		Err:            s.err,
	}
}

// Outcome is the final result of uploading one batch.
type Outcome struct {
	BatchID uuid.UUID
	Traces  int
	State   State
	// Slot is the destination the batch was sent to, zero when no slot
	// was issued.
	Slot           Slot
	SlotAttempts   int
	UploadAttempts int
	// Skipped is set when uploading is disabled and nothing was sent.
	Skipped bool
	Err     error
}
