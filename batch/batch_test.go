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

package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingcap-incubator/testcollector-go"
	"github.com/pingcap-incubator/testcollector-go/report"
)

func trace(name string, padding int) report.Trace {
	root := testcollector.ClosedSpan(testcollector.KindTop, 1_000_000_000, 2_000_000_000,
		map[string]any{"padding": strings.Repeat("x", padding)})
	return report.Trace{
		Name:       name,
		Identifier: name,
		Result:     report.StatusPassed,
		Location:   "./" + name + "_test.go:1",
		FileName:   name + "_test.go",
		History:    root,
	}
}

func names(batches []Batch) []string {
	var out []string
	for _, b := range batches {
		for _, t := range b.Traces {
			out = append(out, t.Name)
		}
	}
	return out
}

func TestAccumulatorSplitsAtCap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const maxBytes = 2048

	for round := 0; round < 20; round++ {
		acc := New(maxBytes)
		var submitted []string
		total := 0
		for i := 0; i < 30; i++ {
			name := fmt.Sprintf("t%d_%d", round, i)
			tr := trace(name, rng.Intn(3000))
			require.NoError(t, acc.Add(tr))
			submitted = append(submitted, name)

			enc, err := json.Marshal(tr)
			require.NoError(t, err)
			total += len(enc)
		}
		require.Greater(t, total, maxBytes)

		batches := acc.Drain()
		require.GreaterOrEqual(t, len(batches), 2)
		assert.Equal(t, submitted, names(batches))

		for _, b := range batches {
			if b.Len() > 1 {
				assert.LessOrEqual(t, b.Size(), maxBytes, "batch %s", b.ID)
			}
			var decoded []map[string]any
			require.NoError(t, json.Unmarshal(b.Payload, &decoded))
			require.Len(t, decoded, b.Len())
			for i, d := range decoded {
				assert.Equal(t, b.Traces[i].Name, d["name"])
			}
		}
	}
}

func TestAccumulatorOversizeTraceIsAlone(t *testing.T) {
	acc := New(1024)
	require.NoError(t, acc.Add(trace("a", 10)))
	require.NoError(t, acc.Add(trace("b", 10)))
	require.NoError(t, acc.Add(trace("huge", 4096)))
	require.NoError(t, acc.Add(trace("c", 10)))

	batches := acc.Drain()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, names(batches[:1]))
	assert.Equal(t, []string{"huge"}, names(batches[1:2]))
	assert.Greater(t, batches[1].Size(), 1024)
	assert.Equal(t, []string{"c"}, names(batches[2:]))
}

func TestAccumulatorDrainResets(t *testing.T) {
	acc := New(0)
	assert.Empty(t, acc.Drain())

	require.NoError(t, acc.Add(trace("a", 0)))
	assert.Equal(t, 1, acc.Len())
	assert.Greater(t, acc.Size(), 2)

	batches := acc.Drain()
	require.Len(t, batches, 1)
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, 0, acc.Size())
	assert.Empty(t, acc.Drain())
}

func TestAccumulatorMaxTraces(t *testing.T) {
	acc := New(0, WithMaxTraces(2))
	for i := 0; i < 5; i++ {
		require.NoError(t, acc.Add(trace(fmt.Sprint(i), 0)))
	}
	batches := acc.Drain()
	require.Len(t, batches, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
}

func TestAccumulatorDropsUnencodableTrace(t *testing.T) {
	boom := errors.New("boom")
	acc := New(0, WithEncoder(func(v any) ([]byte, error) {
		if v.(report.Trace).Name == "bad" {
			return nil, boom
		}
		return json.Marshal(v)
	}))

	require.NoError(t, acc.Add(trace("good", 0)))
	err := acc.Add(trace("bad", 0))
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, acc.Add(trace("after", 0)))

	assert.Equal(t, []string{"good", "after"}, names(acc.Drain()))
}

func TestAccumulatorConcurrentAdd(t *testing.T) {
	acc := New(4096)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, acc.Add(trace(fmt.Sprintf("w%d_%d", w, i), 100)))
			}
		}(w)
	}
	wg.Wait()

	batches := acc.Drain()
	seen := map[string]bool{}
	for _, b := range batches {
		if b.Len() > 1 {
			assert.LessOrEqual(t, b.Size(), 4096)
		}
		for _, tr := range b.Traces {
			seen[tr.Name] = true
		}
	}
	assert.Len(t, seen, 400)
}
