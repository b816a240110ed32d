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
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pingcap-incubator/testcollector-go/batch"
)

// Summary reports the result of a flush.
type Summary struct {
	Uploaded int
	Failed   int
	// Skipped is set when uploading is disabled.
	Skipped  bool
	Outcomes []Outcome
	Errors   []error
}

// Err joins the errors of every failed batch, or returns nil.
func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

// Flush uploads batches with bounded concurrency. Cancelling ctx does not
// interrupt uploads already underway; they run until done or until
// ShutdownBound elapses. An authorization failure stops the flush and the
// batches not yet started are reported as aborted.
func (u *Uploader) Flush(ctx context.Context, batches []batch.Batch) Summary {
	var sum Summary
	if len(batches) == 0 {
		return sum
	}
	if !u.cfg.Enabled() {
		u.logger.Debug("uploading disabled, discarding batches", zap.Int("batches", len(batches)))
		sum.Skipped = true
		for _, b := range batches {
			out, _ := u.Upload(ctx, b)
			sum.Outcomes = append(sum.Outcomes, out)
		}
		sum.Uploaded = len(batches)
		return sum
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.ShutdownBound(len(batches)))
	defer cancel()

	g, gctx := errgroup.WithContext(flushCtx)
	g.SetLimit(u.cfg.Concurrency)

	outcomes := make([]Outcome, len(batches))
	for i, b := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{
					BatchID: b.ID,
					Traces:  b.Len(),
					State:   StateFailed,
					Err:     fmt.Errorf("%w: batch %s not attempted: %w", ErrAborted, b.ID, context.Cause(gctx)),
				}
				u.metrics.finished(StateFailed, b.Len())
				return nil
			}
			out, err := u.Upload(gctx, b)
			outcomes[i] = out
			if errors.Is(err, ErrAuthorization) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		u.logger.Warn("upload stopped by authorization failure", zap.Error(err))
	}

	for _, out := range outcomes {
		sum.Outcomes = append(sum.Outcomes, out)
		if out.State == StateAcknowledged {
			sum.Uploaded++
			continue
		}
		sum.Failed++
		if out.Err != nil {
			sum.Errors = append(sum.Errors, out.Err)
		}
	}
	return sum
}
