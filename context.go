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
	"context"
	"sync"

	"github.com/silentred/gid"
)

type tracerKey struct{}

// NewContext returns a copy of ctx carrying t.
func NewContext(ctx context.Context, t *Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the tracer stored in ctx, or nil.
func FromContext(ctx context.Context) *Tracer {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(tracerKey{}).(*Tracer)
	return t
}

// Annotate records content on the tracer carried by ctx. It does nothing
// when ctx carries no tracer.
func Annotate(ctx context.Context, content string) error {
	if t := FromContext(ctx); t != nil {
		return t.Annotate(content)
	}
	return nil
}

// Registry maps goroutines to the tracer of the test they are running.
// Hooks that only see the calling goroutine, not a context, use it to find
// where to record spans.
type Registry struct {
	mu      sync.RWMutex
	tracers map[int64]*Tracer
}

func NewRegistry() *Registry {
	return &Registry{tracers: make(map[int64]*Tracer)}
}

// Bind associates t with the calling goroutine until the returned func is
// called. The func only unbinds if the goroutine is still bound to t.
func (r *Registry) Bind(t *Tracer) (unbind func()) {
	goid := gid.Get()

	r.mu.Lock()
	r.tracers[goid] = t
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.tracers[goid] == t {
			delete(r.tracers, goid)
		}
	}
}

// Current returns the tracer bound to the calling goroutine, or nil.
func (r *Registry) Current() *Tracer {
	goid := gid.Get()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracers[goid]
}

// Lookup prefers the tracer carried by ctx and falls back to the one bound
// to the calling goroutine.
func (r *Registry) Lookup(ctx context.Context) *Tracer {
	if t := FromContext(ctx); t != nil {
		return t
	}
	if r == nil {
		return nil
	}
	return r.Current()
}

// Len is the number of bound goroutines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracers)
}
