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

// Package report turns a finished test and its span tree into the record
// uploaded to the analytics service.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pingcap-incubator/testcollector-go"
)

// Status is the outcome of a single test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusErrored Status = "errored"
)

// StatusFromCode maps a single character result code (".", "F", "E", "S")
// to a Status.
func StatusFromCode(code string) (Status, error) {
	switch code {
	case ".":
		return StatusPassed, nil
	case "F":
		return StatusFailed, nil
	case "E":
		return StatusErrored, nil
	case "S":
		return StatusSkipped, nil
	}
	return "", fmt.Errorf("report: unknown result code %q", code)
}

// FailureExpanded carries the long form of a failure.
type FailureExpanded struct {
	Expanded  []string `json:"expanded"`
	Backtrace []string `json:"backtrace"`
}

// Result is what a test framework adapter knows about a finished test.
type Result struct {
	Name       string
	Identifier string
	Scope      string
	// SourceFile and Line locate the test in the source tree.
	SourceFile string
	Line       int
	// DefinitionFile is the file that defines the test function when it
	// differs from SourceFile.
	DefinitionFile  string
	Status          Status
	FailureReason   *string
	FailureExpanded []FailureExpanded
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Trace is the uploaded record of one test execution.
type Trace struct {
	ID              uuid.UUID           `json:"id"`
	Scope           string              `json:"scope,omitempty"`
	Name            string              `json:"name"`
	Identifier      string              `json:"identifier"`
	Result          Status              `json:"result"`
	FailureReason   *string             `json:"failure_reason"`
	FailureExpanded []FailureExpanded   `json:"failure_expanded,omitempty"`
	Location        string              `json:"location"`
	LocationPrefix  *string             `json:"location_prefix,omitempty"`
	FileName        string              `json:"file_name"`
	History         *testcollector.Span `json:"history"`
}
