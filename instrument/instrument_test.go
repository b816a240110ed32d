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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testcollector "github.com/pingcap-incubator/testcollector-go"
)

func finish(t *testing.T, tracer *testcollector.Tracer, root testcollector.SpanHandle) *testcollector.Span {
	t.Helper()
	require.NoError(t, root.Finish())
	tree, err := tracer.Tree()
	require.NoError(t, err)
	return tree
}

func TestTransportRecordsBoundTracer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	reg := testcollector.NewRegistry()
	tracer := testcollector.NewTracer()
	root := tracer.Enter(testcollector.KindTop, nil)
	unbind := reg.Bind(tracer)
	defer unbind()

	client := &http.Client{Transport: NewTransport(nil, reg)}
	resp, err := client.Get(srv.URL + "/brew")
	require.NoError(t, err)
	resp.Body.Close()

	tree := finish(t, tracer, root)
	require.Len(t, tree.Children, 1)
	span := tree.Children[0]
	assert.Equal(t, testcollector.KindHTTP, span.Section)
	assert.Equal(t, http.MethodGet, span.Detail["method"])
	assert.Equal(t, srv.URL+"/brew", span.Detail["url"])
	assert.Equal(t, HTTPLib, span.Detail["lib"])
	assert.Equal(t, http.StatusTeapot, span.Detail["status"])
	assert.True(t, span.Closed())
}

func TestTransportPrefersContextTracer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := testcollector.NewRegistry()
	bound := testcollector.NewTracer()
	boundRoot := bound.Enter(testcollector.KindTop, nil)
	defer reg.Bind(bound)()

	carried := testcollector.NewTracer()
	carriedRoot := carried.Enter(testcollector.KindTop, nil)

	req, err := http.NewRequestWithContext(testcollector.NewContext(context.Background(), carried), http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := (&http.Client{Transport: NewTransport(http.DefaultTransport, reg)}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Len(t, finish(t, carried, carriedRoot).Children, 1)
	assert.Empty(t, finish(t, bound, boundRoot).Children)
}

func TestTransportWithoutTracer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	resp, err := (&http.Client{Transport: NewTransport(nil, testcollector.NewRegistry())}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransportRecordsErrors(t *testing.T) {
	tracer := testcollector.NewTracer()
	root := tracer.Enter(testcollector.KindTop, nil)
	ctx := testcollector.NewContext(context.Background(), tracer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)
	_, err = NewTransport(failingTransport{}, nil).RoundTrip(req)
	require.Error(t, err)

	tree := finish(t, tracer, root)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "connection refused", tree.Children[0].Detail["error"])
	assert.NotContains(t, tree.Children[0].Detail, "status")
}

func TestBackfillSQL(t *testing.T) {
	assert.NoError(t, BackfillSQL(nil, "SELECT 1", time.Millisecond))

	tracer := testcollector.NewTracer()
	root := tracer.Enter(testcollector.KindTop, nil)
	require.NoError(t, BackfillSQL(tracer, "SELECT 1", 2*time.Millisecond))

	tree := finish(t, tracer, root)
	require.Len(t, tree.Children, 1)
	span := tree.Children[0]
	assert.Equal(t, testcollector.KindSQL, span.Section)
	assert.Equal(t, "SELECT 1", span.Detail["query"])
	assert.InDelta(t, 0.002, span.Duration, 1e-9)
}

func TestQueryTracer(t *testing.T) {
	reg := testcollector.NewRegistry()
	tracer := testcollector.NewTracer()
	root := tracer.Enter(testcollector.KindTop, nil)
	defer reg.Bind(tracer)()

	base := time.Unix(1700000000, 0)
	readings := []time.Time{base, base.Add(5 * time.Millisecond)}
	qt := NewQueryTracer(reg)
	qt.now = func() time.Time {
		now := readings[0]
		readings = readings[1:]
		return now
	}

	ctx := qt.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT * FROM runs WHERE id = $1", Args: []any{1}})
	qt.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	tree := finish(t, tracer, root)
	require.Len(t, tree.Children, 1)
	span := tree.Children[0]
	assert.Equal(t, testcollector.KindSQL, span.Section)
	assert.Equal(t, "SELECT * FROM runs WHERE id = $1", span.Detail["query"])
	assert.InDelta(t, 0.005, span.Duration, 1e-9)
}

func TestQueryTracerIgnoresUntracedQueries(t *testing.T) {
	qt := NewQueryTracer(testcollector.NewRegistry())
	ctx := qt.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	assert.NotPanics(t, func() { qt.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{}) })
	assert.NotPanics(t, func() { qt.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{}) })
}

func TestSleep(t *testing.T) {
	tracer := testcollector.NewTracer()
	root := tracer.Enter(testcollector.KindTop, nil)
	ctx := testcollector.NewContext(context.Background(), tracer)

	require.NoError(t, Sleep(ctx, nil, time.Millisecond))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, Sleep(cancelled, nil, time.Hour), context.Canceled)

	tree := finish(t, tracer, root)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, testcollector.KindSleep, tree.Children[0].Section)
	assert.Equal(t, 0.001, tree.Children[0].Detail["duration"])
	assert.GreaterOrEqual(t, tree.Children[0].Duration, 0.001)
	assert.Equal(t, true, tree.Children[1].Detail["interrupted"])
}
