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

import "time"

// DefaultURL is the production upload endpoint.
const DefaultURL = "https://analytics-api.buildkite.com/v1/uploads"

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultMinWait     = time.Second
	defaultMaxWait     = 10 * time.Second
	defaultConcurrency = 2
	defaultUserAgent   = "testcollector-go"
)

// Config is fixed for the lifetime of an Uploader.
type Config struct {
	// Token authorizes slot requests. An empty token disables uploading.
	Token string
	// URL receives slot requests. Defaults to DefaultURL.
	URL string
	// Timeout bounds every single network operation.
	Timeout time.Duration
	// MaxAttempts is the number of tries per network operation.
	MaxAttempts int
	// MinWait and MaxWait bound the exponential backoff between tries.
	MinWait time.Duration
	MaxWait time.Duration
	// Concurrency is the number of batches uploaded at once.
	Concurrency int
	// Compress gzips payloads before transmission.
	Compress bool
	// SlotRate caps slot requests per second across all batches. Zero
	// means no cap.
	SlotRate  float64
	UserAgent string
}

// Enabled reports whether anything will leave the process.
func (c Config) Enabled() bool {
	return c.Token != ""
}

// BatchBound is the longest a single batch can take: every try of both
// network operations timing out, plus the longest waits between them.
func (c Config) BatchBound() time.Duration {
	c = c.withDefaults()
	perOp := time.Duration(c.MaxAttempts)*c.Timeout + time.Duration(c.MaxAttempts-1)*c.MaxWait
	return 2 * perOp
}

// ShutdownBound is the longest Flush can take for n batches.
func (c Config) ShutdownBound(n int) time.Duration {
	c = c.withDefaults()
	waves := (n + c.Concurrency - 1) / c.Concurrency
	if waves < 1 {
		waves = 1
	}
	return time.Duration(waves) * c.BatchBound()
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MinWait <= 0 {
		c.MinWait = defaultMinWait
	}
	if c.MaxWait < c.MinWait {
		c.MaxWait = defaultMaxWait
		if c.MaxWait < c.MinWait {
			c.MaxWait = c.MinWait
		}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}
