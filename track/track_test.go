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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/googlegenomics/coviz/internal/bgzf"
	"github.com/googlegenomics/coviz/internal/genomics"
	"github.com/googlegenomics/coviz/internal/tabix"
	"github.com/googlegenomics/coviz/storage"
)

func TestKeys(t *testing.T) {
	if got, want := LRRKey(genomics.TierC, "X"), "c_X"; got != want {
		t.Errorf("LRRKey: got %q, want %q", got, want)
	}
	if got, want := BAFKey("X"), "X"; got != want {
		t.Errorf("BAFKey: got %q, want %q", got, want)
	}
}

func TestRegion(t *testing.T) {
	testCases := []struct {
		key  string
		r    Range
		want string
	}{
		{"d_1", Range{Start: 100, End: 200}, "d_1:100-200"},
		{"1", Range{Start: -50, End: 200}, "1:0-200"},
		{"a_X", Range{All: true}, "a_X"},
	}

	for _, tc := range testCases {
		if got := Region(tc.key, tc.r); got != tc.want {
			t.Errorf("Region(%q, %+v): got %q, want %q", tc.key, tc.r, got, tc.want)
		}
	}
}

// writeTrack writes a BGZF compressed track and its tabix index to dir and
// returns the location of the track.
func writeTrack(t *testing.T, dir string, lines []string) storage.Location {
	t.Helper()
	var data bytes.Buffer
	w := bgzf.NewWriter(&data)
	for _, line := range lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("Failed to write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	idx, err := tabix.Build(bytes.NewReader(data.Bytes()), tabix.BEDHeader)
	if err != nil {
		t.Fatalf("Failed to build index: %v", err)
	}
	var index bytes.Buffer
	if err := tabix.Write(&index, idx); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}

	path := filepath.Join(dir, "track.bed.gz")
	if err := ioutil.WriteFile(path, data.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write track: %v", err)
	}
	if err := ioutil.WriteFile(path+".tbi", index.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}
	return storage.Location{Scheme: storage.SchemeFile, Object: path}
}

func testLines() []string {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("d_1\t%d\t%d\t%d", i*1000, i*1000+1000, 20+i%10))
	}
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("1\t%d\t%d\t0.%d", i*100+50, i*100+51, i))
	}
	return lines
}

func positions(records [][]string) []string {
	var out []string
	for _, fields := range records {
		out = append(out, fields[1])
	}
	return out
}

func TestTabixSource_Query(t *testing.T) {
	source := NewTabixSource(storage.NewResolver(), writeTrack(t, t.TempDir(), testLines()))

	testCases := []struct {
		name string
		key  string
		r    Range
		want []string
	}{
		{"within one record", "d_1", Range{Start: 1500, End: 1600}, []string{"1000"}},
		{"spanning records", "d_1", Range{Start: 1000, End: 3001}, []string{"0", "1000", "2000", "3000"}},
		{"clamped start", "1", Range{Start: -100, End: 250}, []string{"50", "150"}},
		{"first base", "1", Range{Start: 51, End: 51}, []string{"50"}},
		{"past end", "d_1", Range{Start: 500000, End: 600000}, nil},
		{"whole key", "1", Range{All: true}, []string{"50", "150", "250", "350", "450", "550", "650", "750", "850", "950"}},
		{"empty range", "1", Range{Start: 10, End: 0}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			records := source.Query(context.Background(), tc.key, tc.r)
			got := positions(records.Collect())
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Query(%q, %+v): got %v, want %v", tc.key, tc.r, got, tc.want)
			}
			if err := records.Err(); err != nil {
				t.Fatalf("Query(%q, %+v): unexpected error %v", tc.key, tc.r, err)
			}
		})
	}
}

func TestTabixSource_Fields(t *testing.T) {
	source := NewTabixSource(storage.NewResolver(), writeTrack(t, t.TempDir(), testLines()))
	records := source.Query(context.Background(), "1", Range{Start: 300, End: 400})
	defer records.Close()

	if !records.Next() {
		t.Fatalf("Next() returned false, err: %v", records.Err())
	}
	if got, want := records.Fields(), []string{"1", "350", "351", "0.3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Fields(): got %v, want %v", got, want)
	}
	if records.Next() {
		t.Fatalf("Next() returned extra record %v", records.Fields())
	}
}

func TestTabixSource_Failures(t *testing.T) {
	dir := t.TempDir()
	location := writeTrack(t, dir, testLines())

	t.Run("unknown key", func(t *testing.T) {
		records := NewTabixSource(storage.NewResolver(), location).Query(context.Background(), "Y", Range{Start: 1, End: 10})
		if got := records.Collect(); len(got) != 0 {
			t.Fatalf("got %d records, want none", len(got))
		}
		if err := records.Err(); !errors.Is(err, tabix.ErrUnknownReference) {
			t.Fatalf("Err(): got %v, want %v", err, tabix.ErrUnknownReference)
		}
	})

	t.Run("missing index", func(t *testing.T) {
		if err := os.Remove(location.Object + ".tbi"); err != nil {
			t.Fatalf("Failed to remove index: %v", err)
		}
		records := NewTabixSource(storage.NewResolver(), location).Query(context.Background(), "1", Range{All: true})
		if got := records.Collect(); len(got) != 0 {
			t.Fatalf("got %d records, want none", len(got))
		}
		if err := records.Err(); !errors.Is(err, storage.ErrNotExist) {
			t.Fatalf("Err(): got %v, want %v", err, storage.ErrNotExist)
		}
	})

	t.Run("missing data", func(t *testing.T) {
		missing := storage.Location{Scheme: storage.SchemeFile, Object: filepath.Join(dir, "missing.gz")}
		records := NewTabixSource(storage.NewResolver(), missing).Query(context.Background(), "1", Range{All: true})
		if records.Next() {
			t.Fatalf("Next() returned a record")
		}
		if records.Err() == nil {
			t.Fatalf("Err(): expected error")
		}
	})
}

func TestTabixSource_CachesIndex(t *testing.T) {
	location := writeTrack(t, t.TempDir(), testLines())
	source := NewTabixSource(storage.NewResolver(), location)
	if got := source.Query(context.Background(), "1", Range{All: true}).Collect(); len(got) != 10 {
		t.Fatalf("got %d records, want 10", len(got))
	}
	if err := os.Remove(location.Object + ".tbi"); err != nil {
		t.Fatalf("Failed to remove index: %v", err)
	}
	if got := source.Query(context.Background(), "1", Range{All: true}).Collect(); len(got) != 10 {
		t.Fatalf("got %d records after removing index, want 10", len(got))
	}
}

func TestRecords_Canceled(t *testing.T) {
	source := NewTabixSource(storage.NewResolver(), writeTrack(t, t.TempDir(), testLines()))
	ctx, cancel := context.WithCancel(context.Background())
	records := source.Query(ctx, "d_1", Range{All: true})
	if !records.Next() {
		t.Fatalf("Next() returned false, err: %v", records.Err())
	}
	cancel()
	if records.Next() {
		t.Fatalf("Next() returned a record after cancellation")
	}
	if err := records.Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Err(): got %v, want %v", err, context.Canceled)
	}
	if err := records.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
}

func TestSlice(t *testing.T) {
	want := [][]string{{"1", "10", "11", "0.5"}, {"1", "20", "21", "0.25"}}
	if got := Slice(want).Collect(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Collect(): got %v, want %v", got, want)
	}
	if got := Slice(nil).Collect(); len(got) != 0 {
		t.Fatalf("Collect(): got %v, want empty", got)
	}
}

// writeScript writes an executable shell script standing in for tabix.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	path := filepath.Join(t.TempDir(), "tabix")
	if err := ioutil.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func TestExecSource_Query(t *testing.T) {
	script := writeScript(t, `echo "$1 $2 $3"
echo
printf 'X\t5\t6\t0.5\n'`)
	source := NewExecSource(script, "/data/baf.gz")

	records := source.Query(context.Background(), "X", Range{Start: -5, End: 100})
	got := records.Collect()
	want := [][]string{
		{"-f", "/data/baf.gz", "X:0-100"},
		{"X", "5", "6", "0.5"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Query(): got %v, want %v", got, want)
	}
	if err := records.Err(); err != nil {
		t.Fatalf("Err(): unexpected error %v", err)
	}
}

func TestExecSource_Failure(t *testing.T) {
	script := writeScript(t, `echo "could not load index" >&2
exit 1`)
	records := NewExecSource(script, "/data/baf.gz").Query(context.Background(), "1", Range{All: true})
	if got := records.Collect(); len(got) != 0 {
		t.Fatalf("got %v, want no records", got)
	}
	if err := records.Err(); err == nil || !strings.Contains(err.Error(), "could not load index") {
		t.Fatalf("Err(): got %v, want error mentioning stderr", err)
	}
}

func TestExecSource_MissingBinary(t *testing.T) {
	records := NewExecSource(filepath.Join(t.TempDir(), "missing"), "/data/baf.gz").Query(context.Background(), "1", Range{All: true})
	if records.Next() {
		t.Fatalf("Next() returned a record")
	}
	if records.Err() == nil {
		t.Fatalf("Err(): expected error")
	}
}

func TestExecSource_Timeout(t *testing.T) {
	script := writeScript(t, `printf '1\t5\t6\t0.5\n'
sleep 10`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	begin := time.Now()
	records := NewExecSource(script, "/data/baf.gz").Query(ctx, "1", Range{All: true})
	records.Collect()
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("Collect() returned after %v, want it bounded by the deadline", elapsed)
	}
	if records.Err() == nil {
		t.Fatalf("Err(): expected error for an interrupted query")
	}
}

type blockingClient struct {
	started chan string
	release chan struct{}
}

func (c *blockingClient) NewObjectHandle(_, object string) storage.ObjectHandle {
	return blockingHandle{c, object}
}

type blockingHandle struct {
	client *blockingClient
	object string
}

func (h blockingHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	h.client.started <- h.object
	<-h.client.release
	return nil, storage.ErrNotExist
}

func TestTabixSource_ConcurrentIndexLoads(t *testing.T) {
	client := &blockingClient{started: make(chan string, 8), release: make(chan struct{})}
	resolver := storage.NewResolver()
	resolver.Register(storage.SchemeGCS, client)
	source := NewTabixSource(resolver, storage.Location{Scheme: storage.SchemeGCS, Bucket: "bucket", Object: "merged.cov.gz"})

	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			source.Query(context.Background(), "a_1", Range{All: true}).Collect()
			done <- struct{}{}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case object := <-client.started:
			if object != "merged.cov.gz.tbi" {
				t.Fatalf("read %q, want the index", object)
			}
		case <-time.After(5 * time.Second):
			close(client.release)
			t.Fatalf("only %d index reads started concurrently, want 2", i)
		}
	}
	close(client.release)
	for i := 0; i < 2; i++ {
		<-done
	}
}
