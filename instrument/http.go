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

// Package instrument records spans for work a test delegates to common
// libraries.
package instrument

import (
	"net/http"

	testcollector "github.com/pingcap-incubator/testcollector-go"
)

// HTTPLib is the "lib" detail of spans recorded by Transport.
const HTTPLib = "net/http"

// Transport is an http.RoundTripper that records an http span around each
// request made on behalf of a traced test. Requests with no tracer, either
// in their context or bound to the calling goroutine, pass straight through.
type Transport struct {
	// Base performs the request. http.DefaultTransport is used when nil.
	Base http.RoundTripper
	// Registry is consulted when the request context carries no tracer.
	Registry *testcollector.Registry
}

// NewTransport wraps base.
func NewTransport(base http.RoundTripper, registry *testcollector.Registry) *Transport {
	return &Transport{Base: base, Registry: registry}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tracer := t.Registry.Lookup(req.Context())
	if tracer == nil {
		return t.base().RoundTrip(req)
	}

	h := tracer.Enter(testcollector.KindHTTP, map[string]any{
		"method": req.Method,
		"url":    req.URL.String(),
		"lib":    HTTPLib,
	})
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		h.Tag("error", err.Error())
	} else {
		h.Tag("status", resp.StatusCode)
	}
	_ = h.Finish()
	return resp, err
}

// Unwrap returns the wrapped transport.
func (t *Transport) Unwrap() http.RoundTripper {
	return t.base()
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
