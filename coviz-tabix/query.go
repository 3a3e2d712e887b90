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

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/googlegenomics/coviz/internal/server"
	"github.com/googlegenomics/coviz/track"
)

var (
	querySource  string
	queryTabix   string
	queryTimeout time.Duration
	countOnly    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <file> <key[:start-end]>...",
	Short: "Print the records of a track within regions",
	Long: `Print the records of a track overlapping each region.  Positions are
one-based and inclusive as with tabix; a bare key prints all of its records.

Examples:
  coviz-tabix query merged.cov.gz c_1:1000000-2000000
  coviz-tabix query --source exec BAF.bed.gz X
  coviz-tabix query --count gs://bucket/merged.cov.gz a_1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := server.Default()
		cfg.Source, cfg.Tabix = querySource, queryTabix
		cfg.Coverage, cfg.BAF, cfg.Sample = args[0], args[0], args[0]

		ctx := context.Background()
		resolver, err := cfg.NewResolver(ctx)
		if err != nil {
			return err
		}
		source, err := cfg.NewSource(resolver, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, region := range args[1:] {
			key, r, err := parseQuery(region)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, queryTimeout)
			records := source.Query(ctx, key, r)
			var n int
			for records.Next() {
				n++
				if !countOnly {
					fmt.Fprintln(out, strings.Join(records.Fields(), "\t"))
				}
			}
			records.Close()
			cancel()
			if err := records.Err(); err != nil {
				return fmt.Errorf("querying %s: %w", region, err)
			}
			if countOnly {
				fmt.Fprintf(out, "%s\t%d\n", region, n)
			}
		}
		return nil
	},
}

func init() {
	flags := queryCmd.Flags()
	flags.StringVar(&querySource, "source", server.SourceEmbedded, "query implementation: embedded or exec")
	flags.StringVar(&queryTabix, "tabix", "tabix", "tabix binary used by the exec source")
	flags.DurationVar(&queryTimeout, "timeout", time.Minute, "time limit of each query")
	flags.BoolVar(&countOnly, "count", false, "only print the number of records")
}

// parseQuery parses a tabix style region "key" or "key:start-end".
func parseQuery(s string) (string, track.Range, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, track.Range{All: true}, nil
	}
	key, positions := s[:i], s[i+1:]
	parts := strings.Split(positions, "-")
	if key == "" || len(parts) != 2 {
		return "", track.Range{}, fmt.Errorf("invalid region %q: expected key:start-end", s)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", track.Range{}, fmt.Errorf("invalid region %q: parsing start: %v", s, err)
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", track.Range{}, fmt.Errorf("invalid region %q: parsing end: %v", s, err)
	}
	return key, track.Range{Start: start, End: end}, nil
}
