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

// Package batch groups traces into size bounded upload batches.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pingcap-incubator/testcollector-go/report"
)

// DefaultMaxBytes caps the serialized size of a batch.
const DefaultMaxBytes = 5 << 20

// ErrSerialization is matched by every *SerializationError.
var ErrSerialization = errors.New("batch: trace cannot be serialized")

// SerializationError reports a trace that was dropped because it could not
// be encoded.
type SerializationError struct {
	Name string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("batch: serialize trace %q: %v", e.Name, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// Encoder serializes a single trace.
type Encoder func(v any) ([]byte, error)

// Batch is a sealed group of traces. Payload is the JSON array of Traces
// and is never regenerated, so every upload attempt sends the same bytes.
type Batch struct {
	ID      uuid.UUID
	Traces  []report.Trace
	Payload []byte
}

// Len is the number of traces in the batch.
func (b Batch) Len() int { return len(b.Traces) }

// Size is the serialized size of the batch in bytes.
func (b Batch) Size() int { return len(b.Payload) }

// Accumulator collects traces over a test run. It is safe for concurrent
// use; traces keep the order in which Add calls acquired the lock.
type Accumulator struct {
	maxBytes  int
	maxTraces int
	encode    Encoder
	logger    *zap.Logger

	mu      sync.Mutex
	sealed  []Batch
	open    []report.Trace
	encoded [][]byte
	size    int
}

// Option configures an Accumulator.
type Option func(*Accumulator)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Accumulator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithEncoder(encode Encoder) Option {
	return func(a *Accumulator) {
		if encode != nil {
			a.encode = encode
		}
	}
}

// WithMaxTraces additionally caps the number of traces per batch. Zero
// means no limit.
func WithMaxTraces(n int) Option {
	return func(a *Accumulator) {
		a.maxTraces = n
	}
}

// New returns an Accumulator sealing batches at maxBytes of payload.
// A non-positive maxBytes selects DefaultMaxBytes.
func New(maxBytes int, opts ...Option) *Accumulator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	a := &Accumulator{
		maxBytes: maxBytes,
		encode:   sonic.ConfigStd.Marshal,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add encodes trace and appends it to the open batch, sealing that batch
// first when the trace would push it past the cap. A trace that exceeds the
// cap on its own is sealed into a batch of its own. Traces that cannot be
// encoded are dropped and reported with a *SerializationError.
func (a *Accumulator) Add(trace report.Trace) error {
	enc, err := a.encode(trace)
	if err != nil {
		serr := &SerializationError{Name: trace.Name, Err: err}
		a.logger.Warn("dropping trace", zap.String("name", trace.Name), zap.Error(err))
		return serr
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if payloadSize(0, len(enc)) > a.maxBytes {
		a.sealOpen()
		a.sealed = append(a.sealed, newBatch([]report.Trace{trace}, [][]byte{enc}))
		a.logger.Debug("trace exceeds the batch cap, sending it alone",
			zap.String("name", trace.Name), zap.Int("size", len(enc)), zap.Int("cap", a.maxBytes))
		return nil
	}

	full := a.maxTraces > 0 && len(a.open) >= a.maxTraces
	if full || payloadSize(a.size, len(enc)) > a.maxBytes {
		a.sealOpen()
	}
	a.size = payloadSize(a.size, len(enc))
	a.open = append(a.open, trace)
	a.encoded = append(a.encoded, enc)
	return nil
}

// Drain returns every batch in submission order, including the partially
// filled open one, and resets the accumulator.
func (a *Accumulator) Drain() []Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sealOpen()
	batches := a.sealed
	a.sealed = nil
	return batches
}

// Len is the number of traces held, sealed or not.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.open)
	for _, b := range a.sealed {
		n += b.Len()
	}
	return n
}

// Size is the serialized size of the open batch.
func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

func (a *Accumulator) sealOpen() {
	if len(a.open) == 0 {
		return
	}
	a.sealed = append(a.sealed, newBatch(a.open, a.encoded))
	a.open = nil
	a.encoded = nil
	a.size = 0
}

// payloadSize is the size of a JSON array after appending an element of n
// bytes to an array currently current bytes long (0 when empty).
func payloadSize(current, n int) int {
	if current == 0 {
		return n + 2
	}
	return current + n + 1
}

func newBatch(traces []report.Trace, encoded [][]byte) Batch {
	var buf bytes.Buffer
	buf.Grow(payloadLen(encoded))
	buf.WriteByte('[')
	buf.Write(bytes.Join(encoded, []byte{','}))
	buf.WriteByte(']')
	return Batch{
		ID:      uuid.New(),
		Traces:  traces,
		Payload: buf.Bytes(),
	}
}

func payloadLen(encoded [][]byte) int {
	size := 0
	for _, enc := range encoded {
		size = payloadSize(size, len(enc))
	}
	if size == 0 {
		return 2
	}
	return size
}
