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

package upload

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrNetwork       = errors.New("upload: network failure")
	ErrAuthorization = errors.New("upload: not authorized")
	ErrMalformedSlot = errors.New("upload: malformed slot response")
	ErrStatus        = errors.New("upload: unexpected response status")
	// ErrAborted marks batches that were never attempted because the flush
	// was stopped by an authorization failure or its deadline.
	ErrAborted = errors.New("upload: flush aborted")
)

// Op names one of the two network operations of an upload.
type Op string

const (
	OpSlot     Op = "slot"
	OpTransmit Op = "transmit"
)

// NetworkError wraps transport failures, including timeouts.
type NetworkError struct {
	Op  Op
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upload: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// Timeout reports whether the failure was a timeout.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsTimeout reports whether err is a NetworkError caused by a timeout.
func IsTimeout(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Timeout()
}

// AuthorizationError is returned when the service rejects the token. It
// is never retried.
type AuthorizationError struct {
	Op         Op
	StatusCode int
	Message    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("upload: %s: not authorized (%d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrAuthorization
}

// StatusError is a non-success response other than an authorization
// failure.
type StatusError struct {
	Op         Op
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
