// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server assembles the coverage viewer from its configuration.
package server

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/googlegenomics/coviz/api"
	"github.com/googlegenomics/coviz/internal/genomics"
	"github.com/googlegenomics/coviz/internal/metrics"
	"github.com/googlegenomics/coviz/overview"
	"github.com/googlegenomics/coviz/sample"
	"github.com/googlegenomics/coviz/storage"
	"github.com/googlegenomics/coviz/track"
)

// Track source implementations.
const (
	SourceEmbedded = "embedded"
	SourceExec     = "exec"
)

// Config holds the settings of a coverage viewer.
type Config struct {
	// Coverage, BAF and Sample are the locations of the coverage track, the
	// allele frequency track and the sample metadata.
	Coverage, BAF, Sample string

	// Source selects how tracks are queried.
	Source string
	// Tabix is the path of the tabix binary used by the exec source.
	Tabix string

	QueryTimeout time.Duration
	// CallRegion is the region highlighted on the coverage view.
	CallRegion string

	// Buckets restricts reads from GCS and S3 when not empty.
	Buckets []string
	// GCSPublic selects unauthenticated GCS reads.
	GCSPublic bool
	// GCSToken is an OAuth2 access token used for GCS reads if set.
	GCSToken string
	S3       storage.S3Config
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Coverage:     "merged.cov.gz",
		BAF:          "BAF.bed.gz",
		Sample:       "sample_data.json",
		Source:       SourceEmbedded,
		Tabix:        "tabix",
		QueryTimeout: overview.DefaultQueryTimeout,
		CallRegion:   api.DefaultCallRegion.String(),
	}
}

// FromEnv returns the default configuration overridden by the COVIZ_*
// environment variables.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	for _, v := range []struct {
		name  string
		value *string
	}{
		{"COVIZ_COVERAGE", &cfg.Coverage},
		{"COVIZ_BAF", &cfg.BAF},
		{"COVIZ_SAMPLE", &cfg.Sample},
		{"COVIZ_SOURCE", &cfg.Source},
		{"COVIZ_TABIX", &cfg.Tabix},
		{"COVIZ_CALL_REGION", &cfg.CallRegion},
		{"COVIZ_GCS_TOKEN", &cfg.GCSToken},
		{"COVIZ_S3_REGION", &cfg.S3.Region},
		{"COVIZ_S3_ENDPOINT", &cfg.S3.Endpoint},
	} {
		if s := getenv(v.name); s != "" {
			*v.value = s
		}
	}

	if s := getenv("COVIZ_BUCKETS"); s != "" {
		cfg.Buckets = strings.Split(s, ",")
	}
	if s := getenv("COVIZ_QUERY_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("parsing COVIZ_QUERY_TIMEOUT: %v", err)
		}
		cfg.QueryTimeout = d
	}
	for _, v := range []struct {
		name  string
		value *bool
	}{
		{"COVIZ_GCS_PUBLIC", &cfg.GCSPublic},
		{"COVIZ_S3_PATH_STYLE", &cfg.S3.PathStyle},
	} {
		if s := getenv(v.name); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return Config{}, fmt.Errorf("parsing %s: %v", v.name, err)
			}
			*v.value = b
		}
	}
	return cfg, nil
}

// NewResolver returns a resolver able to open every configured location.
func (cfg Config) NewResolver(ctx context.Context) (*storage.Resolver, error) {
	schemes := make(map[string]bool)
	for _, s := range []string{cfg.Coverage, cfg.BAF, cfg.Sample} {
		location, err := storage.ParseLocation(s)
		if err != nil {
			return nil, err
		}
		schemes[location.Scheme] = true
	}

	resolver := storage.NewResolver()
	resolver.Allow(cfg.Buckets)
	if schemes[storage.SchemeGCS] {
		var (
			client storage.GCSClient
			err    error
		)
		switch {
		case cfg.GCSToken != "":
			client, err = storage.NewGCSClientFromToken(ctx, cfg.GCSToken)
		case cfg.GCSPublic:
			client, err = storage.NewPublicGCSClient(ctx)
		default:
			client, err = storage.NewGCSClient(ctx)
		}
		if err != nil {
			return nil, err
		}
		resolver.Register(storage.SchemeGCS, client)
	}
	if schemes[storage.SchemeS3] {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		resolver.Register(storage.SchemeS3, client)
	}
	return resolver, nil
}

// NewSource returns the configured Source for the track at location.
func (cfg Config) NewSource(resolver *storage.Resolver, location string) (track.Source, error) {
	switch cfg.Source {
	case SourceEmbedded, "":
		l, err := storage.ParseLocation(location)
		if err != nil {
			return nil, err
		}
		return track.NewTabixSource(resolver, l), nil
	case SourceExec:
		return track.NewExecSource(cfg.Tabix, location), nil
	}
	return nil, fmt.Errorf("unknown source %q: must be %s or %s", cfg.Source, SourceEmbedded, SourceExec)
}

// Build wires the viewer endpoints into router.
func (cfg Config) Build(ctx context.Context, router *gin.Engine) error {
	callRegion, err := genomics.ParseRegion(cfg.CallRegion)
	if err != nil {
		return fmt.Errorf("parsing call region: %v", err)
	}
	resolver, err := cfg.NewResolver(ctx)
	if err != nil {
		return err
	}
	coverage, err := cfg.NewSource(resolver, cfg.Coverage)
	if err != nil {
		return err
	}
	baf, err := cfg.NewSource(resolver, cfg.BAF)
	if err != nil {
		return err
	}
	sampleLocation, err := storage.ParseLocation(cfg.Sample)
	if err != nil {
		return err
	}

	m := metrics.New()
	service := &overview.Service{
		Coverage:     coverage,
		BAF:          baf,
		QueryTimeout: cfg.QueryTimeout,
		Metrics:      m,
	}
	loadSample := func(ctx context.Context) (sample.Info, error) {
		return sample.Load(ctx, resolver, sampleLocation)
	}

	server := api.NewServer(service, loadSample, m)
	server.SetCallRegion(callRegion)
	server.Export(router)

	log.Printf("Serving coverage %s and BAF %s using the %s source", cfg.Coverage, cfg.BAF, cfg.Source)
	return nil
}
