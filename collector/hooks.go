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

package collector

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/pingcap-incubator/testcollector-go/instrument"
)

const (
	// HookTesting enables Track for tests run by the testing package.
	HookTesting = "testing"
	// HookHTTP records every request sent through http.DefaultTransport.
	HookHTTP = "net/http"
)

// ErrUnsupportedHook is matched by every *UnsupportedHookError.
var ErrUnsupportedHook = errors.New("collector: unsupported hook")

type UnsupportedHookError struct {
	Hook string
}

func (e *UnsupportedHookError) Error() string {
	return fmt.Sprintf("collector: %q is not a supported hook (supported: %v)", e.Hook, Hooks())
}

func (e *UnsupportedHookError) Unwrap() error {
	return ErrUnsupportedHook
}

// hook installs itself on c and returns the func that uninstalls it.
type hook func(c *Collector) (uninstall func())

var hooks = map[string]hook{
	HookTesting: installTesting,
	HookHTTP:    installHTTP,
}

// Hooks lists the supported hook names.
func Hooks() []string {
	names := make([]string, 0, len(hooks))
	for name := range hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func installTesting(c *Collector) func() {
	return func() {}
}

func installHTTP(c *Collector) func() {
	if !c.cfg.TracingEnabled {
		return func() {}
	}
	prev := http.DefaultTransport
	wrapped := instrument.NewTransport(prev, c.registry)
	http.DefaultTransport = wrapped
	return func() {
		if http.DefaultTransport == http.RoundTripper(wrapped) {
			http.DefaultTransport = prev
		}
	}
}
