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

	"github.com/jackc/pgx/v5"

	testcollector "github.com/pingcap-incubator/testcollector-go"
)

// BackfillSQL records a finished query of the given duration on tracer.
// A nil tracer is ignored.
func BackfillSQL(tracer *testcollector.Tracer, query string, duration time.Duration) error {
	if tracer == nil {
		return nil
	}
	return tracer.Backfill(testcollector.KindSQL, duration, map[string]any{"query": query})
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// QueryTracer implements pgx.QueryTracer. Each query is recorded as an sql
// span once it completes, timed from TraceQueryStart.
//
//	cfg, _ := pgx.ParseConfig(dsn)
//	cfg.Tracer = instrument.NewQueryTracer(registry)
type QueryTracer struct {
	Registry *testcollector.Registry

	now func() time.Time
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func NewQueryTracer(registry *testcollector.Registry) *QueryTracer {
	return &QueryTracer{Registry: registry, now: time.Now}
}

func (q *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: q.clock()()})
}

func (q *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	tracer := q.Registry.Lookup(ctx)
	if tracer == nil {
		return
	}
	_ = BackfillSQL(tracer, start.sql, q.clock()().Sub(start.at))
}

func (q *QueryTracer) clock() func() time.Time {
	if q.now != nil {
		return q.now
	}
	return time.Now
}
