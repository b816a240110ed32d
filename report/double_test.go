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
	"runtime"
	"time"
)

// resultDouble stands in for a test framework result. It records this file
// as the place the test was defined.
func resultDouble(source string, line int) Result {
	_, file, _, _ := runtime.Caller(0)
	reason := "test for invalid character '\xC8'"
	now := time.Now()
	return Result{
		Name:           "TestItPasses",
		SourceFile:     source,
		Line:           line,
		DefinitionFile: file,
		Status:         StatusFailed,
		FailureReason:  &reason,
		StartedAt:      now.Add(-time.Second),
		FinishedAt:     now,
	}
}
