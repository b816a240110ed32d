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

package testcollector

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracer records the span tree of a single test execution. The first
// span entered becomes the root; the tree is complete once the root is
// left. Tracers are not meant to be shared between tests.
type Tracer struct {
	clock  Clock
	logger *zap.Logger

	mu               sync.Mutex
	stack            []*Span
	root             *Span
	createUnixTimeNs uint64
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger sets the logger protocol violations are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock replaces the monotonic clock.
func WithClock(clock Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		clock:  monotimeNs,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SpanHandle identifies an open span. The zero value is a no-op handle.
type SpanHandle struct {
	tracer *Tracer
	span   *Span
}

// Valid reports whether the handle refers to a span.
func (h SpanHandle) Valid() bool {
	return h.tracer != nil && h.span != nil
}

// Finish leaves the span. It is a no-op for the zero handle.
func (h SpanHandle) Finish() error {
	if !h.Valid() {
		return nil
	}
	return h.tracer.Leave(h)
}

// Tag sets a detail entry on the span. Closed spans are left unchanged.
func (h SpanHandle) Tag(key string, value any) {
	if !h.Valid() {
		return
	}
	h.tracer.mu.Lock()
	defer h.tracer.mu.Unlock()
	if h.span.closed {
		return
	}
	if h.span.Detail == nil {
		h.span.Detail = make(map[string]any)
	}
	h.span.Detail[key] = value
}

// Enter opens a new span as a child of the innermost open span, or as the
// root when nothing is open yet.
func (t *Tracer) Enter(kind Kind, detail map[string]any) SpanHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root != nil && t.root.closed {
		t.logger.Warn("span entered after the root span was closed",
			zap.String("section", string(kind)))
		return SpanHandle{}
	}

	s := &Span{}
	s.beginWith(kind, detail, t.clock())
	if top := t.top(); top != nil {
		top.Children = append(top.Children, s)
	} else {
		t.root = s
		t.createUnixTimeNs = unixtimeNs()
	}
	t.stack = append(t.stack, s)
	return SpanHandle{tracer: t, span: s}
}

// Leave closes the span referenced by h. Leaving a span that is not the
// innermost one closes every span opened after it as well, at the same
// instant, and returns a *ProtocolError describing the repair.
func (t *Tracer) Leave(h SpanHandle) error {
	if h.tracer != t || h.span == nil {
		return &ProtocolError{Op: "leave", Reason: "handle does not belong to this tracer"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i] == h.span {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &ProtocolError{Op: "leave", Section: h.span.Section, Reason: "span is not open"}
	}

	now := t.clock()
	repaired := len(t.stack) - 1 - idx
	for i := len(t.stack) - 1; i >= idx; i-- {
		t.stack[i].endWith(now)
		t.stack[i] = nil
	}
	t.stack = t.stack[:idx]

	if repaired > 0 {
		err := &ProtocolError{
			Op:       "leave",
			Section:  h.span.Section,
			Reason:   "span left before its children",
			Repaired: repaired,
		}
		t.logger.Warn("out of order span leave", zap.Error(err))
		return err
	}
	return nil
}

// Backfill attaches an already finished span of the given duration to the
// innermost open span. The span is taken to have ended now.
func (t *Tracer) Backfill(kind Kind, duration time.Duration, detail map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	top := t.top()
	if top == nil {
		err := &ProtocolError{Op: "backfill", Section: kind, Reason: "no open span"}
		t.logger.Warn("backfill without an open span", zap.Error(err))
		return err
	}
	if duration < 0 {
		duration = 0
	}

	now := t.clock()
	begin := now - uint64(duration)
	if uint64(duration) > now {
		begin = 0
	}
	s := &Span{}
	s.beginWith(kind, detail, begin)
	s.endWith(now)
	top.Children = append(top.Children, s)
	return nil
}

// Annotate records free-form content as a zero duration span under the
// innermost open span.
func (t *Tracer) Annotate(content string) error {
	return t.Backfill(KindAnnotation, 0, map[string]any{"content": content})
}

// Tree returns a copy of the span tree once the root span is closed.
func (t *Tracer) Tree() (*Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nil || !t.root.closed {
		return nil, ErrTracingIncomplete
	}
	return t.root.Clone(), nil
}

// Finished reports whether the root span has been closed.
func (t *Tracer) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root != nil && t.root.closed
}

// Depth is the number of open spans.
func (t *Tracer) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// StartedAt is the wall clock time the root span was entered.
func (t *Tracer) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return time.Time{}
	}
	return time.Unix(0, int64(t.createUnixTimeNs))
}

func (t *Tracer) top() *Span {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}
