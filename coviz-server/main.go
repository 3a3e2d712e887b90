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

// This binary serves the coverage viewer over local, GCS or S3 data.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/googlegenomics/coviz/internal/analytics"
	"github.com/googlegenomics/coviz/internal/server"
)

var (
	cfg server.Config

	port      int
	secure    bool
	httpsCert string
	httpsKey  string
	buckets   string
	profiling string

	// Enable or disable anonymous usage tracking.
	//
	// If enabled, anonymous information about requests handled by the server is
	// logged to Google via Google Analytics.
	//
	// This information helps Google determine how well the software is
	// performing and where improvements should be made.  No user identifying
	// information is ever sent to Google.
	trackUsage bool
)

var rootCmd = &cobra.Command{
	Use:   "coviz-server",
	Short: "Serve LRR and BAF overview plots of a sample",
	Long: `coviz-server answers overview queries with the plot coordinates of the
log R ratio and B-allele frequency tracks of a sample.

Tracks are BGZF compressed, tabix indexed files read from local disk,
gs://bucket/object or s3://bucket/object locations.  Every flag can also be
set with the COVIZ_* environment variable named after it.`,
	Args:    cobra.NoArgs,
	PreRunE: validate,
	RunE:    run,
}

func init() {
	defaults, err := server.FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	flags := rootCmd.Flags()
	flags.IntVar(&port, "port", envInt("COVIZ_PORT", 8080), "HTTP service port")
	flags.StringVar(&cfg.Coverage, "coverage", defaults.Coverage, "location of the tiered coverage (LRR) track")
	flags.StringVar(&cfg.BAF, "baf", defaults.BAF, "location of the BAF track")
	flags.StringVar(&cfg.Sample, "sample", defaults.Sample, "location of the sample metadata JSON")
	flags.StringVar(&cfg.Source, "source", defaults.Source, "track query implementation: embedded or exec")
	flags.StringVar(&cfg.Tabix, "tabix", defaults.Tabix, "tabix binary used by the exec source")
	flags.DurationVar(&cfg.QueryTimeout, "query_timeout", defaults.QueryTimeout, "time limit of each track query")
	flags.StringVar(&cfg.CallRegion, "call_region", defaults.CallRegion, "call highlighted on the coverage view")
	flags.BoolVar(&cfg.GCSPublic, "gcs_public", defaults.GCSPublic, "read GCS objects without credentials")
	flags.StringVar(&cfg.S3.Region, "s3_region", defaults.S3.Region, "S3 region")
	flags.StringVar(&cfg.S3.Endpoint, "s3_endpoint", defaults.S3.Endpoint, "custom S3 endpoint, such as a MinIO server")
	flags.BoolVar(&cfg.S3.PathStyle, "s3_path_style", defaults.S3.PathStyle, "use path style S3 addressing")
	flags.StringVar(&buckets, "buckets", strings.Join(defaults.Buckets, ","), "if set, restricts reads to a comma-separated list of buckets")

	flags.BoolVar(&secure, "secure", false, "serve in HTTPS-only mode")
	flags.StringVar(&httpsCert, "https_cert", os.Getenv("COVIZ_HTTPS_CERT"), "HTTPS certificate file")
	flags.StringVar(&httpsKey, "https_key", os.Getenv("COVIZ_HTTPS_KEY"), "HTTPS key file")
	flags.BoolVar(&trackUsage, "track_usage", false, "anonymous usage tracking")
	flags.StringVar(&profiling, "profile", "", "write a cpu or mem profile to the working directory")

	cfg.GCSToken = defaults.GCSToken
}

func envInt(name string, fallback int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		log.Printf("Ignoring invalid %s=%q", name, s)
	}
	return fallback
}

func validate(*cobra.Command, []string) error {
	if secure && (httpsCert == "" || httpsKey == "") {
		return fmt.Errorf("you must specify both --https_cert and --https_key in secure mode")
	}
	switch profiling {
	case "", "cpu", "mem":
	default:
		return fmt.Errorf("unknown profile %q: must be cpu or mem", profiling)
	}
	if buckets != "" {
		cfg.Buckets = strings.Split(buckets, ",")
	}
	return nil
}

func run(*cobra.Command, []string) error {
	switch profiling {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	router := gin.Default()
	if err := cfg.Build(context.Background(), router); err != nil {
		return err
	}

	handler := http.Handler(router)
	if trackUsage {
		log.Printf("Enabling anonymous usage tracking")

		client := analytics.NewClient("UA-103022118-1", uuid.New().String())
		handler = analytics.TrackingHandler(handler, client.Sender(log.Printf))
	}

	address := fmt.Sprintf(":%d", port)
	if secure {
		if err := http.ListenAndServeTLS(address, httpsCert, httpsKey, handler); err != nil {
			return fmt.Errorf("HTTPS server returned an error: %v", err)
		}
		return nil
	}
	if err := http.ListenAndServe(address, handler); err != nil {
		return fmt.Errorf("HTTP server returned an error: %v", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
