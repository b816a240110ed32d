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
	"time"
	_ "unsafe"
)

//go:linkname nanotime runtime.nanotime
func nanotime() int64

// Clock returns a monotonic reading in nanoseconds. Span start and end
// times are expressed on this clock, so only differences between two
// readings are meaningful.
type Clock func() uint64

// `nanotime()` is identical to Linux's `clock_gettime(CLOCK_MONOTONIC, &ts)`
// and skips the wall clock read that `time.Now()` also performs.
func monotimeNs() uint64 {
	return uint64(nanotime())
}

func unixtimeNs() uint64 {
	return uint64(time.Now().UnixNano())
}

func nsToSeconds(ns uint64) float64 {
	return float64(ns) / float64(time.Second)
}
