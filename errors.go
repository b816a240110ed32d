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
	"errors"
	"fmt"
)

var (
	// ErrTracingProtocol is matched by every *ProtocolError.
	ErrTracingProtocol = errors.New("testcollector: tracing protocol violation")
	// ErrTracingIncomplete is returned when a span tree is requested before
	// its root span has been closed.
	ErrTracingIncomplete = errors.New("testcollector: span tree is incomplete")
)

// ProtocolError describes a misuse of the enter/leave protocol. The
// tracer has already repaired its stack when one is returned.
type ProtocolError struct {
	Op      string
	Section Kind
	Reason  string
	// Repaired is the number of open spans that were closed implicitly.
	Repaired int
}

func (e *ProtocolError) Error() string {
	if e.Repaired > 0 {
		return fmt.Sprintf("testcollector: %s %q: %s (closed %d unfinished spans)", e.Op, e.Section, e.Reason, e.Repaired)
	}
	return fmt.Sprintf("testcollector: %s %q: %s", e.Op, e.Section, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrTracingProtocol
}
