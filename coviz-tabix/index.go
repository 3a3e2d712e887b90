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
	"os"

	"github.com/spf13/cobra"

	"github.com/googlegenomics/coviz/internal/tabix"
)

var (
	indexHeader = tabix.BEDHeader
	zeroBased   bool
	metaChar    string
)

var indexCmd = &cobra.Command{
	Use:   "index <file.gz>",
	Short: "Build the tabix index of a BGZF compressed track",
	Long: `Build a .tbi index next to a BGZF compressed, position sorted track.

The defaults describe BED-like tracks: the key in column 1 and zero-based
begin and end positions in columns 2 and 3.

Examples:
  coviz-tabix index merged.cov.gz
  coviz-tabix index --end 0 --zero_based=false positions.txt.gz`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		header, err := headerFromFlags()
		if err != nil {
			return err
		}

		in, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer in.Close()

		idx, err := tabix.Build(in, header)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", args[0], err)
		}

		output := args[0] + ".tbi"
		out, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
		err = tabix.Write(out, idx)
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing index: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d keys)\n", output, len(idx.Names))
		return nil
	},
}

func init() {
	flags := indexCmd.Flags()
	flags.Int32Var(&indexHeader.SeqColumn, "seq", indexHeader.SeqColumn, "column of the key")
	flags.Int32Var(&indexHeader.BeginColumn, "begin", indexHeader.BeginColumn, "column of the begin position")
	flags.Int32Var(&indexHeader.EndColumn, "end", indexHeader.EndColumn, "column of the end position, 0 if records span one base")
	flags.BoolVar(&zeroBased, "zero_based", true, "begin positions are zero-based")
	flags.StringVar(&metaChar, "meta", "#", "prefix of comment lines, empty for none")
	flags.Int32Var(&indexHeader.Skip, "skip", 0, "number of leading lines to skip")
}

func headerFromFlags() (tabix.Header, error) {
	header := indexHeader
	header.Format = tabix.FormatGeneric
	if zeroBased {
		header.Format |= tabix.FlagZeroBased
	}
	switch len(metaChar) {
	case 0:
		header.Meta = 0
	case 1:
		header.Meta = int32(metaChar[0])
	default:
		return tabix.Header{}, fmt.Errorf("--meta must be a single character, got %q", metaChar)
	}
	return header, nil
}
