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

package track

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long a canceled query waits for the output of tabix to
// be released.
const waitDelay = 100 * time.Millisecond

// ExecSource queries a file by running the tabix command line tool.
type ExecSource struct {
	tabix string
	file  string
}

// NewExecSource returns a Source running the tabix binary at path (looked up
// in PATH when it has no separator) against file.
func NewExecSource(path, file string) *ExecSource {
	if path == "" {
		path = "tabix"
	}
	return &ExecSource{tabix: path, file: file}
}

func (s *ExecSource) String() string {
	return s.file
}

// Query runs "tabix -f file region" and streams its output.
func (s *ExecSource) Query(ctx context.Context, key string, r Range) *Records {
	region := Region(key, r)
	name := fmt.Sprintf("%s %s", s.file, region)

	cmd := exec.CommandContext(ctx, s.tabix, "-f", s.file, region)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed(name, err)
	}
	if err := cmd.Start(); err != nil {
		return failed(name, fmt.Errorf("starting %s: %v", s.tabix, err))
	}

	it := &lineIterator{
		lines: bufio.NewScanner(stdout),
		wait: func() error {
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("%s: %v: %s", s.tabix, err, strings.TrimSpace(stderr.String()))
			}
			return nil
		},
		stdout: stdout,
	}
	// Processes left behind by a killed command may keep the pipe open.
	it.stopClose = context.AfterFunc(ctx, func() { stdout.Close() })
	return newRecords(ctx, name, it, nil)
}

// lineIterator yields the whitespace separated fields of each non-empty
// output line of a command.
type lineIterator struct {
	lines     *bufio.Scanner
	wait      func() error
	stdout    io.ReadCloser
	stopClose func() bool
	fields    []string
	err       error
	done      bool
}

func (it *lineIterator) Next() bool {
	for !it.done && it.lines.Scan() {
		if fields := strings.Fields(it.lines.Text()); len(fields) > 0 {
			it.fields = fields
			return true
		}
	}
	it.finish()
	return false
}

func (it *lineIterator) finish() {
	if it.done {
		return
	}
	it.done = true
	it.fields = nil
	it.stopClose()
	if err := it.lines.Err(); err != nil {
		it.err = err
	}
	if err := it.wait(); err != nil && it.err == nil {
		it.err = err
	}
}

func (it *lineIterator) Fields() []string { return it.fields }
func (it *lineIterator) Err() error       { return it.err }

func (it *lineIterator) Close() error {
	if !it.done {
		// Unblock a command still writing to the pipe before waiting for it.
		it.stopClose()
		it.stdout.Close()
		it.done = true
		it.wait()
	}
	return nil
}
