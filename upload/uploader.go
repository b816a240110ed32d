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

// Package upload transmits sealed batches to the analytics service.
package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pingcap-incubator/testcollector-go/batch"
)

const maxMessageLen = 512

// Uploader requests an upload slot for each batch and transmits the batch
// to it, retrying transient failures with exponential backoff.
type Uploader struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures an Uploader.
type Option func(*Uploader)

func WithLogger(logger *zap.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(u *Uploader) {
		u.metrics = m
	}
}

// WithHTTPClient replaces the pooled default transport. hc is copied, so
// the uploader's timeout never leaks into the caller's client.
func WithHTTPClient(hc *http.Client) Option {
	return func(u *Uploader) {
		if hc != nil {
			own := *hc
			u.client = resty.NewWithClient(&own)
		}
	}
}

func New(cfg Config, opts ...Option) *Uploader {
	u := &Uploader{
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	u.limiter = rate.NewLimiter(rate.Inf, 0)
	if u.cfg.SlotRate > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(u.cfg.SlotRate), max(1, int(u.cfg.SlotRate)))
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		retryClient := retryablehttp.NewClient()
		u.client = resty.New().SetTransport(retryClient.HTTPClient.Transport)
	}
	u.client.
		SetTimeout(u.cfg.Timeout).
		SetHeader("User-Agent", u.cfg.UserAgent).
		SetLogger(u.logger.Sugar())
	return u
}

// Config returns the effective configuration.
func (u *Uploader) Config() Config {
	return u.cfg
}

// Upload carries b through slot request and transmission. When uploading
// is disabled it succeeds without touching the network.
func (u *Uploader) Upload(ctx context.Context, b batch.Batch) (Outcome, error) {
	if !u.cfg.Enabled() {
		return Outcome{BatchID: b.ID, Traces: b.Len(), State: StateAcknowledged, Skipped: true}, nil
	}

	s, err := newSession(b, u.cfg.Compress)
	if err != nil {
		return Outcome{BatchID: b.ID, Traces: b.Len(), State: StateFailed, Err: err}, err
	}
	err = u.run(ctx, s)
	u.metrics.finished(s.state, b.Len())
	return s.outcome(), err
}

func (u *Uploader) run(ctx context.Context, s *session) error {
	log := u.logger.With(zap.Stringer("batch", s.batch.ID), zap.Int("traces", s.batch.Len()))

	s.state = StateRequestingSlot
	slot, attempts, err := u.requestSlot(ctx, s)
	s.slotAttempts = attempts
	if err != nil {
		log.Warn("upload slot request failed", zap.Int("attempts", attempts), zap.Error(err))
		return s.fail(err)
	}
	s.slot = slot

	s.state = StateUploading
	attempts, err = u.transmit(ctx, s)
	s.uploadAttempts = attempts
	if err != nil {
		log.Warn("batch transmission failed", zap.Int("attempts", attempts), zap.Error(err))
		return s.fail(err)
	}

	s.state = StateAcknowledged
	log.Debug("batch uploaded", zap.Int("bytes", len(s.body)),
		zap.Int("slot_attempts", s.slotAttempts), zap.Int("upload_attempts", s.uploadAttempts))
	return nil
}

type slotRequest struct {
	BatchID    string `json:"batch_id"`
	Count      int    `json:"count"`
	Size       int    `json:"size"`
	Format     string `json:"format"`
	Compressed bool   `json:"compressed"`
}

func (u *Uploader) requestSlot(ctx context.Context, s *session) (Slot, int, error) {
	body, err := sonic.ConfigStd.Marshal(slotRequest{
		BatchID:    s.batch.ID.String(),
		Count:      s.batch.Len(),
		Size:       len(s.body),
		Format:     "json",
		Compressed: s.compressed,
	})
	if err != nil {
		return Slot{}, 0, fmt.Errorf("upload: encode slot request: %w", err)
	}

	var slot Slot
	_, attempts, err := u.do(ctx, OpSlot, func(ctx context.Context) (*resty.Response, error) {
		if err := u.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return u.client.R().
			SetContext(ctx).
			SetAuthToken(u.cfg.Token).
			SetHeader("Content-Type", "application/json").
			SetHeader("Idempotency-Key", s.batch.ID.String()).
			SetBody(body).
			Post(u.cfg.URL)
	}, func(resp *resty.Response) error {
		parsed, err := parseSlot(resp.Body())
		if err != nil {
			return err
		}
		slot = parsed
		return nil
	})
	return slot, attempts, err
}

func (u *Uploader) transmit(ctx context.Context, s *session) (int, error) {
	_, attempts, err := u.do(ctx, OpTransmit, func(ctx context.Context) (*resty.Response, error) {
		req := u.client.R().
			SetContext(ctx).
			SetHeaders(s.slot.Headers).
			SetHeader("Content-Type", "application/json").
			SetHeader("Idempotency-Key", s.batch.ID.String()).
			SetBody(s.body)
		if s.compressed {
			req.SetHeader("Content-Encoding", "gzip")
		}
		return req.Put(s.slot.UploadURL)
	}, nil)
	return attempts, err
}

func parseSlot(body []byte) (Slot, error) {
	var slot Slot
	if err := sonic.ConfigStd.Unmarshal(body, &slot); err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrMalformedSlot, err)
	}
	target, err := url.Parse(slot.UploadURL)
	if err != nil || slot.UploadURL == "" || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Slot{}, fmt.Errorf("%w: bad upload_url %q", ErrMalformedSlot, slot.UploadURL)
	}
	return slot, nil
}

// do runs send up to MaxAttempts times. accept validates a successful
// response; its errors are retried like transport failures.
func (u *Uploader) do(
	ctx context.Context,
	op Op,
	send func(context.Context) (*resty.Response, error),
	accept func(*resty.Response) error,
) (*resty.Response, int, error) {
	var (
		resp *resty.Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		u.metrics.attempt(op)
		resp, err = send(ctx)

		retry, cause := classify(ctx, op, resp, err)
		if cause == nil && accept != nil {
			if cause = accept(resp); cause != nil {
				retry = true
			}
		}
		if cause == nil {
			return resp, attempt, nil
		}
		if !retry || attempt >= u.cfg.MaxAttempts {
			return resp, attempt, cause
		}

		var raw *http.Response
		if resp != nil {
			raw = resp.RawResponse
		}
		wait := retryablehttp.DefaultBackoff(u.cfg.MinWait, u.cfg.MaxWait, attempt-1, raw)
		if wait > u.cfg.MaxWait {
			wait = u.cfg.MaxWait
		}
		u.logger.Debug("retrying upload operation",
			zap.String("op", string(op)), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(cause))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return resp, attempt, &NetworkError{Op: op, Err: ctx.Err()}
		}
	}
}

// classify turns the result of one try into an error, reporting whether
// the try may be repeated. Transport errors follow retryablehttp's default
// policy. Every non-2xx status is retried except 401 and 403.
func classify(ctx context.Context, op Op, resp *resty.Response, err error) (bool, error) {
	if err != nil {
		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err)
		return retry, &NetworkError{Op: op, Err: err}
	}
	if resp == nil || resp.RawResponse == nil {
		return false, &NetworkError{Op: op, Err: fmt.Errorf("no response")}
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return false, &AuthorizationError{Op: op, StatusCode: code, Message: message(resp)}
	case !resp.IsSuccess():
		return true, &StatusError{Op: op, StatusCode: code, Message: message(resp)}
	}
	return false, nil
}

func message(resp *resty.Response) string {
	msg := strings.TrimSpace(string(resp.Body()))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return msg
}
