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

package instrument

import (
	"context"
	"time"

	testcollector "github.com/pingcap-incubator/testcollector-go"
)

// Sleep pauses for d, or until ctx is done, inside a sleep span.
func Sleep(ctx context.Context, registry *testcollector.Registry, d time.Duration) error {
	tracer := registry.Lookup(ctx)
	h := testcollector.SpanHandle{}
	if tracer != nil {
		h = tracer.Enter(testcollector.KindSleep, map[string]any{"duration": d.Seconds()})
	}
	defer func() { _ = h.Finish() }()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		h.Tag("interrupted", true)
		return ctx.Err()
	}
}
