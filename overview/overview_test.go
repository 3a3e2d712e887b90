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

package overview

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/googlegenomics/coviz/internal/genomics"
	"github.com/googlegenomics/coviz/internal/metrics"
	"github.com/googlegenomics/coviz/track"
)

type query struct {
	key string
	r   track.Range
}

type fakeSource struct {
	records   map[string][][]string
	queries   []query
	deadlines []bool
}

func (f *fakeSource) Query(ctx context.Context, key string, r track.Range) *track.Records {
	f.queries = append(f.queries, query{key, r})
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	return track.Slice(f.records[key])
}

func newService(lrr, baf map[string][][]string) (*Service, *fakeSource, *fakeSource) {
	coverage, frequencies := &fakeSource{records: lrr}, &fakeSource{records: baf}
	return &Service{Coverage: coverage, BAF: frequencies, Metrics: metrics.New()}, coverage, frequencies
}

func testRequest(region string) Request {
	return Request{
		Region:     region,
		Median:     30,
		XPos:       5,
		YPos:       20,
		BoxHeight:  100,
		YMargin:    10,
		XAmplitude: 250,
	}
}

func TestOverview(t *testing.T) {
	service, coverage, frequencies := newService(
		map[string][][]string{"d_1": {{"d_1", "1000", "1001", "30"}, {"d_1", "1500", "1501", "0"}}},
		map[string][][]string{"1": {{"1", "1200", "1201", "0.5"}}},
	)

	got, err := service.Overview(context.Background(), testRequest("1:1000-2000"))
	if err != nil {
		t.Fatalf("Overview() returned error: %v", err)
	}
	want := &Response{
		Data:   []float64{5, 160, 0, 130, 170, 0},
		BAF:    []float64{55, 70, 0},
		Status: "ok",
		Chrom:  "1",
		XPos:   5,
		YPos:   20,
		Start:  1000,
		End:    2000,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Overview(): got %+v, want %+v", got, want)
	}

	wantRange := track.Range{Start: 1000, End: 2000}
	if got, want := coverage.queries, []query{{"d_1", wantRange}}; !reflect.DeepEqual(got, want) {
		t.Errorf("coverage queries: got %v, want %v", got, want)
	}
	if got, want := frequencies.queries, []query{{"1", wantRange}}; !reflect.DeepEqual(got, want) {
		t.Errorf("BAF queries: got %v, want %v", got, want)
	}
	if !coverage.deadlines[0] || !frequencies.deadlines[0] {
		t.Errorf("queries were issued without a deadline")
	}
}

func TestOverview_Padding(t *testing.T) {
	service, coverage, _ := newService(
		map[string][][]string{"d_1": {{"d_1", "1000", "1001", "30"}}},
		map[string][][]string{"1": {{"1", "960", "961", "0"}}},
	)
	req := testRequest("1:1000-2000")
	req.ExtraBoxWidth = 10

	got, err := service.Overview(context.Background(), req)
	if err != nil {
		t.Fatalf("Overview() returned error: %v", err)
	}
	// The region start stays at xpos and the padding extends to the left.
	if got, want := got.Data[0], 5.0; got != want {
		t.Errorf("x of region start: got %v, want %v", got, want)
	}
	if got, want := got.BAF[0], -5.0; got != want {
		t.Errorf("x of fetch start: got %v, want %v", got, want)
	}
	if got, want := coverage.queries[0].r, (track.Range{Start: 960, End: 2040}); got != want {
		t.Errorf("fetch range: got %+v, want %+v", got, want)
	}
}

func TestOverview_Unbounded(t *testing.T) {
	service, coverage, frequencies := newService(
		map[string][][]string{"a_1": {{"a_1", "0", "1", "30"}, {"a_1", "5000", "5001", "30"}}},
		map[string][][]string{"1": {{"1", "2000", "2001", "0"}, {"1", "8000", "8001", "1"}}},
	)
	req := testRequest("1:100000-None")
	req.XAmplitude = 2000
	req.ExtraBoxWidth = 25

	got, err := service.Overview(context.Background(), req)
	if err != nil {
		t.Fatalf("Overview() returned error: %v", err)
	}
	if got.Start != 0 || got.End != 8000 {
		t.Errorf("range: got %d-%d, want 0-8000", got.Start, got.End)
	}
	if want := []float64{5, 160, 0, 1255, 160, 0}; !reflect.DeepEqual(got.Data, want) {
		t.Errorf("LRR points: got %v, want %v", got.Data, want)
	}
	if want := []float64{505, 110, 0, 2005, 30, 0}; !reflect.DeepEqual(got.BAF, want) {
		t.Errorf("BAF points: got %v, want %v", got.BAF, want)
	}
	all := track.Range{All: true}
	if got, want := coverage.queries, []query{{"a_1", all}}; !reflect.DeepEqual(got, want) {
		t.Errorf("coverage queries: got %v, want %v", got, want)
	}
	if got, want := frequencies.queries, []query{{"1", all}}; !reflect.DeepEqual(got, want) {
		t.Errorf("BAF queries: got %v, want %v", got, want)
	}
}

func TestOverview_DataUnavailable(t *testing.T) {
	testCases := []struct {
		name     string
		lrr, baf map[string][][]string
	}{
		{"both empty", nil, nil},
		{"no coverage", nil, map[string][][]string{"Y": {{"Y", "10", "11", "0.5"}}}},
		{"no BAF", map[string][][]string{"d_Y": {{"d_Y", "10", "11", "30"}}}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, _, _ := newService(tc.lrr, tc.baf)
			_, err := service.Overview(context.Background(), testRequest("Y:0-100"))
			var unavailable *DataUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("Overview(): got error %v, want DataUnavailableError", err)
			}
			if unavailable.Chromosome != "Y" || !strings.Contains(err.Error(), "Y") {
				t.Fatalf("Overview(): error %q does not name chromosome Y", err)
			}
		})
	}
}

func TestOverview_Aliases(t *testing.T) {
	service, coverage, frequencies := newService(
		map[string][][]string{"d_X": {{"d_X", "10", "11", "30"}}},
		map[string][][]string{"X": {{"X", "20", "21", "0.5"}}},
	)

	got, err := service.Overview(context.Background(), testRequest("23:0-100"))
	if err != nil {
		t.Fatalf("Overview() returned error: %v", err)
	}
	if got.Chrom != "X" {
		t.Errorf("chrom: got %q, want %q", got.Chrom, "X")
	}
	if coverage.queries[0].key != "d_X" || frequencies.queries[0].key != "X" {
		t.Errorf("queried %q and %q, want %q and %q", coverage.queries[0].key, frequencies.queries[0].key, "d_X", "X")
	}
}

func TestOverview_InvalidRegion(t *testing.T) {
	for _, region := range []string{"", "1:a-b", "1:1-2-3", "1 2"} {
		t.Run(region, func(t *testing.T) {
			service, coverage, frequencies := newService(nil, nil)
			if _, err := service.Overview(context.Background(), testRequest(region)); !errors.Is(err, genomics.ErrInvalidRegion) {
				t.Fatalf("Overview(): got error %v, want %v", err, genomics.ErrInvalidRegion)
			}
			if len(coverage.queries)+len(frequencies.queries) != 0 {
				t.Fatalf("tracks were queried for an invalid region")
			}
		})
	}
}

func TestOverview_EmptyWindow(t *testing.T) {
	service, _, _ := newService(
		map[string][][]string{"a_1": {{"a_1", "0", "1", "30"}}},
		map[string][][]string{"1": {{"1", "0", "1", "0.5"}}},
	)
	if _, err := service.Overview(context.Background(), testRequest("1:None-None")); !errors.Is(err, genomics.ErrInvalidRegion) {
		t.Fatalf("Overview(): got error %v, want %v", err, genomics.ErrInvalidRegion)
	}

	service, _, _ = newService(
		map[string][][]string{"d_1": {{"d_1", "5", "6", "30"}}},
		map[string][][]string{"1": {{"1", "5", "6", "0.5"}}},
	)
	if _, err := service.Overview(context.Background(), testRequest("1:5-5")); !errors.Is(err, genomics.ErrInvalidRegion) {
		t.Fatalf("Overview(): got error %v, want %v", err, genomics.ErrInvalidRegion)
	}
}

func TestOverview_InvalidInput(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Request)
	}{
		{"zero median", func(r *Request) { r.Median = 0 }},
		{"negative median", func(r *Request) { r.Median = -1 }},
		{"zero width", func(r *Request) { r.XAmplitude = 0 }},
		{"negative width", func(r *Request) { r.XAmplitude = -10 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, _, _ := newService(nil, nil)
			req := testRequest("1:0-100")
			tc.modify(&req)
			if _, err := service.Overview(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Overview(): got error %v, want %v", err, ErrInvalidInput)
			}
		})
	}
}

func TestOverview_NotFound(t *testing.T) {
	service, _, _ := newService(
		map[string][][]string{"d_1": {{"d_1", "start", "1", "30"}}},
		map[string][][]string{"1": {{"1", "10", "11", "0.5"}}},
	)
	if _, err := service.Overview(context.Background(), testRequest("1:0-100")); err != ErrNotFound {
		t.Fatalf("Overview(): got error %v, want %v", err, ErrNotFound)
	}
}

func TestOverview_QueryTimeout(t *testing.T) {
	service, coverage, _ := newService(nil, nil)
	service.QueryTimeout = time.Minute
	service.Overview(context.Background(), testRequest("1:0-100"))
	if len(coverage.deadlines) != 1 || !coverage.deadlines[0] {
		t.Fatalf("coverage query was issued without a deadline")
	}
}

func TestOverview_SlowSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	script := filepath.Join(t.TempDir(), "tabix")
	body := "#!/bin/sh\nprintf 'd_1\\t10\\t11\\t30\\n1\\t10\\t11\\t0.5\\n'\nsleep 10\n"
	if err := ioutil.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	service := &Service{
		Coverage:     track.NewExecSource(script, "merged.cov.gz"),
		BAF:          track.NewExecSource(script, "BAF.bed.gz"),
		QueryTimeout: 300 * time.Millisecond,
	}

	begin := time.Now()
	_, err := service.Overview(context.Background(), testRequest("1:0-100"))
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("Overview() returned after %v, want it bounded by the query timeout", elapsed)
	}
	var unavailable *DataUnavailableError
	if !errors.As(err, &unavailable) || unavailable.Chromosome != "1" {
		t.Fatalf("Overview(): got error %v, want DataUnavailableError for chromosome 1", err)
	}
}

func TestDefaultRequest(t *testing.T) {
	req := DefaultRequest()
	if req.Region != "1:100000-200000" || req.Median != 1 || req.XAmplitude != 1 || req.ExtraBoxWidth != 0 {
		t.Fatalf("DefaultRequest(): got %+v", req)
	}
	region, err := genomics.ParseRegion(req.Region)
	if err != nil {
		t.Fatalf("ParseRegion(%q) returned error: %v", req.Region, err)
	}
	if region.Tier != genomics.TierD {
		t.Fatalf("default region tier: got %q, want %q", region.Tier, genomics.TierD)
	}
}
