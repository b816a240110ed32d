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

// Package collector records the tests of a Go test binary and uploads
// their traces when the run ends.
//
//	var tc *collector.Collector
//
//	func TestMain(m *testing.M) {
//		tc, _ = collector.FromEnv()
//		os.Exit(tc.Run(m))
//	}
//
//	func TestCheckout(t *testing.T) {
//		tc.Track(t)
//		...
//	}
package collector

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	testcollector "github.com/pingcap-incubator/testcollector-go"
	"github.com/pingcap-incubator/testcollector-go/batch"
	"github.com/pingcap-incubator/testcollector-go/config"
	"github.com/pingcap-incubator/testcollector-go/instrument"
	"github.com/pingcap-incubator/testcollector-go/logging"
	"github.com/pingcap-incubator/testcollector-go/report"
	"github.com/pingcap-incubator/testcollector-go/upload"
)

// Collector owns the tracers, the pending traces and the uploader of one
// test run.
type Collector struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *testcollector.Registry
	builder  *report.Builder
	acc      *batch.Accumulator
	uploader *upload.Uploader

	mu        sync.Mutex
	installed map[string]func()
	order     []string
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
}

type Option func(*options)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the upload metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHTTPClient sets the client used for uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// New builds a collector and installs the hooks named in cfg.Hooks. An
// unknown hook is an error.
func New(cfg config.Config, opts ...Option) (*Collector, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New(bool(cfg.Debug))
	}

	var resolver report.RootResolver = report.WorkingDirectory{}
	if cfg.Root != "" {
		resolver = report.FrameworkRoot{Dir: cfg.Root}
	}

	uploadOpts := []upload.Option{upload.WithLogger(o.logger)}
	if o.registerer != nil {
		uploadOpts = append(uploadOpts, upload.WithMetrics(upload.NewMetrics(o.registerer)))
	}
	if o.httpClient != nil {
		uploadOpts = append(uploadOpts, upload.WithHTTPClient(o.httpClient))
	}

	c := &Collector{
		cfg:      cfg,
		logger:   o.logger,
		registry: testcollector.NewRegistry(),
		builder: report.NewBuilder(report.Options{
			LocationPrefix: cfg.LocationPrefix,
			Resolver:       resolver,
		}),
		acc: batch.New(cfg.BatchBytes,
			batch.WithLogger(o.logger),
			batch.WithMaxTraces(cfg.BatchTraces)),
		uploader:  upload.New(cfg.Upload(), uploadOpts...),
		installed: make(map[string]func()),
	}

	for _, name := range cfg.Hooks {
		if err := c.HookInto(strings.TrimSpace(name)); err != nil {
			c.Close()
			return nil, err
		}
	}
	if !c.uploader.Config().Enabled() {
		c.logger.Warn("no analytics token configured, traces will not be uploaded")
	}
	return c, nil
}

// FromEnv builds a collector from the environment.
func FromEnv(opts ...Option) (*Collector, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// HookInto installs the named hook. Installing a hook twice is a no-op.
func (c *Collector) HookInto(name string) error {
	install, ok := hooks[name]
	if !ok {
		return &UnsupportedHookError{Hook: name}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.installed[name]; ok {
		return nil
	}
	c.installed[name] = install(c)
	c.order = append(c.order, name)
	c.logger.Debug("hook installed", zap.String("hook", name))
	return nil
}

// Hooked reports whether the named hook is installed.
func (c *Collector) Hooked(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.installed[name]
	return ok
}

// Close uninstalls every hook, most recent first.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		c.installed[name]()
		delete(c.installed, name)
	}
	c.order = nil
}

// Config returns the configuration the collector was built with.
func (c *Collector) Config() config.Config {
	return c.cfg
}

// Registry maps goroutines to the tracers of the tests running on them.
func (c *Collector) Registry() *testcollector.Registry {
	return c.registry
}

// Transport wraps base so requests made by tracked tests are recorded.
func (c *Collector) Transport(base http.RoundTripper) http.RoundTripper {
	if !c.cfg.TracingEnabled {
		if base == nil {
			return http.DefaultTransport
		}
		return base
	}
	return instrument.NewTransport(base, c.registry)
}

// QueryTracer records pgx queries made by tracked tests. It returns nil
// when tracing is disabled, which pgx treats as no tracer.
func (c *Collector) QueryTracer() *instrument.QueryTracer {
	if !c.cfg.TracingEnabled {
		return nil
	}
	return instrument.NewQueryTracer(c.registry)
}

// Track starts recording t. The trace is built and queued when t and its
// subtests finish. It returns nil unless the testing hook is installed.
func (c *Collector) Track(t testing.TB) *testcollector.Tracer {
	if !c.Hooked(HookTesting) {
		return nil
	}
	t.Helper()

	_, file, line, _ := runtime.Caller(1)
	tracer := testcollector.NewTracer(testcollector.WithLogger(c.logger.With(zap.String("test", t.Name()))))
	root := tracer.Enter(testcollector.KindTop, nil)

	unbind := func() {}
	if c.cfg.TracingEnabled {
		unbind = c.registry.Bind(tracer)
	}

	t.Cleanup(func() {
		unbind()
		_ = root.Finish()
		tree, err := tracer.Tree()
		if err != nil {
			c.logger.Warn("incomplete span tree", zap.String("test", t.Name()), zap.Error(err))
			tree = nil
		}

		scope, name := splitName(t.Name())
		_ = c.Report(report.Result{
			Name:       name,
			Identifier: t.Name(),
			Scope:      scope,
			SourceFile: file,
			Line:       line,
			Status:     statusOf(t.Failed(), t.Skipped()),
			StartedAt:  tracer.StartedAt(),
			FinishedAt: time.Now(),
		}, tree)
	})
	return tracer
}

// Report builds the trace of one finished test and queues it for upload.
// Errors are logged and returned; they never affect other traces.
func (c *Collector) Report(res report.Result, tree *testcollector.Span) error {
	trace, err := c.builder.Build(res, tree)
	if err != nil {
		c.logger.Warn("dropping trace", zap.String("test", res.Identifier), zap.Error(err))
		return fmt.Errorf("collector: build %q: %w", res.Identifier, err)
	}
	if err := c.acc.Add(trace); err != nil {
		return fmt.Errorf("collector: queue %q: %w", res.Identifier, err)
	}
	return nil
}

// Annotate records content on the test running on the calling goroutine.
func (c *Collector) Annotate(content string) error {
	if t := c.registry.Current(); t != nil {
		return t.Annotate(content)
	}
	return nil
}

// Sleep pauses inside a sleep span of the test running on the calling
// goroutine.
func (c *Collector) Sleep(ctx context.Context, d time.Duration) error {
	return instrument.Sleep(ctx, c.registry, d)
}

// Pending is the number of traces waiting to be uploaded.
func (c *Collector) Pending() int {
	return c.acc.Len()
}

// Flush uploads every pending trace.
func (c *Collector) Flush(ctx context.Context) upload.Summary {
	batches := c.acc.Drain()
	sum := c.uploader.Flush(ctx, batches)
	switch {
	case sum.Failed > 0:
		c.logger.Error("some traces were not uploaded",
			zap.Int("uploaded", sum.Uploaded),
			zap.Int("failed", sum.Failed),
			zap.Error(sum.Err()))
	case len(batches) > 0:
		c.logger.Debug("traces uploaded",
			zap.Int("batches", sum.Uploaded),
			zap.Bool("skipped", sum.Skipped))
	}
	return sum
}

// Runner is implemented by *testing.M.
type Runner interface {
	Run() int
}

// Run runs the tests, flushes the collected traces and uninstalls the
// hooks. The exit code is that of the tests; upload failures are logged.
func (c *Collector) Run(m Runner) int {
	code := m.Run()
	c.Flush(context.Background())
	c.Close()
	_ = c.logger.Sync()
	return code
}

func statusOf(failed, skipped bool) report.Status {
	switch {
	case skipped:
		return report.StatusSkipped
	case failed:
		return report.StatusFailed
	default:
		return report.StatusPassed
	}
}

// splitName splits a subtest name into the path of its parents and its
// own name.
func splitName(full string) (scope, name string) {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}
