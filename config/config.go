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

// Package config reads collector settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/pingcap-incubator/testcollector-go/upload"
)

// Prefix is prepended to every variable name, e.g. BUILDKITE_ANALYTICS_TOKEN.
const Prefix = "BUILDKITE_ANALYTICS"

// Config is read once at start up and never modified afterwards.
type Config struct {
	Token          string        `envconfig:"TOKEN"`
	URL            string        `envconfig:"URL"`
	Debug          Flag          `envconfig:"DEBUG_ENABLED"`
	TracingEnabled bool          `envconfig:"TRACING_ENABLED" default:"true"`
	LocationPrefix string        `envconfig:"LOCATION_PREFIX"`
	Root           string        `envconfig:"ROOT"`
	BatchBytes     int           `envconfig:"BATCH_BYTES" default:"5242880"`
	BatchTraces    int           `envconfig:"BATCH_TRACES" default:"5000"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"30s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	MinWait        time.Duration `envconfig:"MIN_WAIT" default:"1s"`
	MaxWait        time.Duration `envconfig:"MAX_WAIT" default:"10s"`
	Concurrency    int           `envconfig:"CONCURRENCY" default:"2"`
	Compress       bool          `envconfig:"COMPRESS" default:"false"`
	SlotRate       float64       `envconfig:"SLOT_RATE" default:"0"`
	Hooks          []string      `envconfig:"HOOKS" default:"testing"`
}

// Flag is a switch that is on whenever its variable holds anything other
// than an explicit false ("0", "false", ...), so DEBUG_ENABLED=yes works.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	if b, err := strconv.ParseBool(value); err == nil {
		*f = Flag(b)
		return nil
	}
	*f = value != ""
	return nil
}

// Load reads the environment, after merging any .env files given (or
// ./.env when none are). Missing .env files are ignored.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.URL == "" {
		cfg.URL = upload.DefaultURL
	}
	return cfg, nil
}

// Default returns the configuration used when the environment is empty.
func Default() Config {
	return Config{
		URL:            upload.DefaultURL,
		TracingEnabled: true,
		BatchBytes:     5 << 20,
		BatchTraces:    5000,
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		MinWait:        time.Second,
		MaxWait:        10 * time.Second,
		Concurrency:    2,
		Hooks:          []string{"testing"},
	}
}

// Upload extracts the uploader settings.
func (c Config) Upload() upload.Config {
	return upload.Config{
		Token:       c.Token,
		URL:         c.URL,
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxAttempts,
		MinWait:     c.MinWait,
		MaxWait:     c.MaxWait,
		Concurrency: c.Concurrency,
		Compress:    c.Compress,
		SlotRate:    c.SlotRate,
	}
}
