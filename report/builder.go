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

package report

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pingcap-incubator/testcollector-go"
	"github.com/pingcap-incubator/testcollector-go/sanitize"
)

// ErrNoHistory is returned when a trace is built without a span tree and
// without start and finish times to stand in for one.
var ErrNoHistory = errors.New("report: missing span tree")

// Options controls how locations are rendered.
type Options struct {
	// LocationPrefix replaces the leading "./" of every location.
	LocationPrefix string
	// Resolver picks the directory locations are relative to. Defaults to
	// WorkingDirectory.
	Resolver RootResolver
}

// Builder turns test results into Traces.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.Resolver == nil {
		opts.Resolver = WorkingDirectory{}
	}
	return &Builder{opts: opts}
}

// Build assembles the Trace for res. The span tree and every failure
// string are sanitized copies; neither argument is modified.
func (b *Builder) Build(res Result, tree *testcollector.Span) (Trace, error) {
	if tree == nil {
		if res.StartedAt.IsZero() || res.FinishedAt.IsZero() {
			return Trace{}, ErrNoHistory
		}
		tree = testcollector.ClosedSpan(testcollector.KindTop,
			uint64(res.StartedAt.UnixNano()), uint64(res.FinishedAt.UnixNano()), nil)
	}

	root, err := b.opts.Resolver.Root()
	if err != nil {
		return Trace{}, fmt.Errorf("report: resolve root: %w", err)
	}

	trace := Trace{
		ID:         uuid.New(),
		Scope:      sanitize.String(res.Scope),
		Name:       sanitize.String(res.Name),
		Identifier: sanitize.String(res.Identifier),
		Result:     res.Status,
		FileName:   res.DefinitionFile,
		History:    tree.CloneWith(sanitize.Map),
	}
	if trace.Identifier == "" {
		trace.Identifier = trace.Name
	}
	if trace.FileName == "" {
		trace.FileName = res.SourceFile
	}
	if trace.FileName != "" {
		trace.FileName = sanitize.String(filepath.Base(trace.FileName))
	}

	if res.SourceFile != "" {
		trace.Location = sanitize.String(Location(root, res.SourceFile, res.Line, b.opts.LocationPrefix))
	}
	if b.opts.LocationPrefix != "" {
		prefix := sanitize.String(b.opts.LocationPrefix)
		trace.LocationPrefix = &prefix
	}

	if res.FailureReason != nil {
		reason := sanitize.String(*res.FailureReason)
		trace.FailureReason = &reason
	}
	for _, fe := range res.FailureExpanded {
		trace.FailureExpanded = append(trace.FailureExpanded, FailureExpanded{
			Expanded:  sanitizeLines(fe.Expanded),
			Backtrace: sanitizeLines(fe.Backtrace),
		})
	}
	return trace, nil
}

func sanitizeLines(lines []string) []string {
	if lines == nil {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = sanitize.String(l)
	}
	return out
}
