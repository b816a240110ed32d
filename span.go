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

// Kind names the section a span belongs to.
type Kind string

const (
	// KindTop is the span covering a whole test execution.
	KindTop        Kind = "top"
	KindSQL        Kind = "sql"
	KindHTTP       Kind = "http"
	KindAnnotation Kind = "annotation"
	KindSleep      Kind = "sleep"
)

// Span is a timed unit of work inside a test. Times are seconds on the
// monotonic clock of the process that recorded them.
type Span struct {
	Section  Kind           `json:"section"`
	StartAt  float64        `json:"start_at"`
	EndAt    float64        `json:"end_at"`
	Duration float64        `json:"duration"`
	Detail   map[string]any `json:"detail"`
	Children []*Span        `json:"children"`

	beginNs uint64
	endNs   uint64
	closed  bool
}

func (s *Span) beginWith(kind Kind, detail map[string]any, nowNs uint64) {
	s.Section = kind
	s.Detail = detail
	if s.Detail == nil {
		s.Detail = map[string]any{}
	}
	s.Children = []*Span{}
	s.beginNs = nowNs
	s.StartAt = nsToSeconds(nowNs)
}

func (s *Span) endWith(nowNs uint64) {
	if nowNs < s.beginNs {
		nowNs = s.beginNs
	}
	s.endNs = nowNs
	s.EndAt = nsToSeconds(nowNs)
	s.Duration = nsToSeconds(nowNs - s.beginNs)
	s.closed = true
}

// Closed reports whether the span has an end time.
func (s *Span) Closed() bool {
	return s.closed
}

// Walk visits s and all its descendants depth first, parents before
// children. Returning false from fn skips the children of that span.
func (s *Span) Walk(fn func(*Span) bool) {
	if s == nil || !fn(s) {
		return
	}
	for _, c := range s.Children {
		c.Walk(fn)
	}
}

// Clone returns a deep copy of the span tree. Detail maps are copied one
// level deep; values inside them are shared.
func (s *Span) Clone() *Span {
	return s.CloneWith(nil)
}

// CloneWith deep-copies the tree, passing every detail map through fn
// when fn is non-nil.
func (s *Span) CloneWith(fn func(map[string]any) map[string]any) *Span {
	if s == nil {
		return nil
	}
	c := *s
	if fn != nil {
		c.Detail = fn(s.Detail)
	} else {
		c.Detail = make(map[string]any, len(s.Detail))
		for k, v := range s.Detail {
			c.Detail[k] = v
		}
	}
	if c.Detail == nil {
		c.Detail = map[string]any{}
	}
	c.Children = make([]*Span, 0, len(s.Children))
	for _, child := range s.Children {
		c.Children = append(c.Children, child.CloneWith(fn))
	}
	return &c
}

// ClosedSpan builds a finished span from times measured elsewhere, given in
// nanoseconds on any single clock.
func ClosedSpan(kind Kind, beginNs, endNs uint64, detail map[string]any) *Span {
	s := &Span{}
	s.beginWith(kind, detail, beginNs)
	s.endWith(endNs)
	return s
}
