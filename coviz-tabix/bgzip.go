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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/googlegenomics/coviz/internal/bgzf"
)

var bgzipOutput string

var bgzipCmd = &cobra.Command{
	Use:   "bgzip <input>",
	Short: "Compress a tabular file into BGZF blocks",
	Long: `Compress a position sorted tabular file into BGZF blocks so that it can be
indexed.  The output defaults to the input name with a .gz suffix; an input
of "-" reads standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := bgzipOutput
		if output == "" {
			if args[0] == "-" {
				return fmt.Errorf("--output is required when reading standard input")
			}
			output = args[0] + ".gz"
		}

		in := io.Reader(os.Stdin)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			in = f
		}

		out, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		n, err := compress(out, in)
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing output: %w", cerr)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes of data)\n", output, n)
		return nil
	},
}

func init() {
	bgzipCmd.Flags().StringVarP(&bgzipOutput, "output", "o", "", "output file")
}

// compress writes the contents of r to w as BGZF and returns the number of
// uncompressed bytes.
func compress(w io.Writer, r io.Reader) (int64, error) {
	bw := bgzf.NewWriter(w)
	n, err := io.Copy(bw, r)
	if err != nil {
		return n, fmt.Errorf("compressing: %w", err)
	}
	if err := bw.Close(); err != nil {
		return n, fmt.Errorf("finishing output: %w", err)
	}
	return n, nil
}
