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

// Package overview computes the plot coordinates of the LRR and BAF tracks of
// a genomic region.
package overview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/googlegenomics/coviz/internal/analytics"
	"github.com/googlegenomics/coviz/internal/genomics"
	"github.com/googlegenomics/coviz/internal/metrics"
	"github.com/googlegenomics/coviz/internal/plot"
	"github.com/googlegenomics/coviz/track"
)

// DefaultQueryTimeout bounds the time spent reading each track.
const DefaultQueryTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when no records could be plotted.
	ErrNotFound = errors.New("no plottable records")
	// ErrInvalidInput is returned for out of range request parameters.
	ErrInvalidInput = errors.New("invalid input")
)

// DataUnavailableError is returned when a track has no records for the
// requested chromosome.
type DataUnavailableError struct {
	Chromosome string
}

func (err *DataUnavailableError) Error() string {
	return fmt.Sprintf("data for chromosome %s not available", err.Chromosome)
}

// Request holds the parameters of an overview query.
type Request struct {
	Region string
	// Median is the median sequencing depth of the sample.
	Median     float64
	XPos, YPos float64
	BoxHeight  float64
	YMargin    float64
	// XAmplitude is the plot width in pixels.
	XAmplitude float64
	// ExtraBoxWidth is the padding in pixels drawn on each side of the region.
	ExtraBoxWidth float64
}

// DefaultRequest returns a Request holding the default parameter values.
func DefaultRequest() Request {
	return Request{
		Region:     "1:100000-200000",
		Median:     1,
		XPos:       1,
		YPos:       1,
		BoxHeight:  1,
		YMargin:    1,
		XAmplitude: 1,
	}
}

func (req Request) validate() error {
	if !(req.Median > 0) || math.IsInf(req.Median, 1) {
		return fmt.Errorf("%w: median must be positive, got %v", ErrInvalidInput, req.Median)
	}
	if !(req.XAmplitude > 0) || math.IsInf(req.XAmplitude, 1) {
		return fmt.Errorf("%w: x_ampl must be positive, got %v", ErrInvalidInput, req.XAmplitude)
	}
	return nil
}

// Response holds the points of both graphs as flat [x, y, 0, ...] arrays.
type Response struct {
	Data   []float64 `json:"data"`
	BAF    []float64 `json:"baf"`
	Status string    `json:"status"`
	Chrom  string    `json:"chrom"`
	XPos   float64   `json:"x_pos"`
	YPos   float64   `json:"y_pos"`
	Start  int64     `json:"start"`
	End    int64     `json:"end"`
}

// Service answers overview queries from a coverage and a BAF track.
type Service struct {
	Coverage track.Source
	BAF      track.Source
	// QueryTimeout bounds each track query.  DefaultQueryTimeout is used when
	// it is zero.
	QueryTimeout time.Duration
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Overview computes the plot of the region described by req.
func (s *Service) Overview(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	layout := plot.NewLayout(req.BoxHeight, req.YPos, req.YMargin)

	region, err := genomics.ParseRegion(req.Region)
	if err != nil {
		return nil, err
	}
	window, err := plot.Resolve(region, req.XAmplitude, req.ExtraBoxWidth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	chrom := window.Region.Chromosome

	r := track.Range{Start: window.FetchStart, End: window.FetchEnd, All: window.Unbounded}
	lrr := s.query(ctx, "lrr", s.Coverage, track.LRRKey(window.Region.Tier, chrom), r)
	baf := s.query(ctx, "baf", s.BAF, track.BAFKey(chrom), r)
	if len(lrr) == 0 || len(baf) == 0 {
		log.Printf("Data for chromosome %s not available (%d LRR, %d BAF records)", chrom, len(lrr), len(baf))
		return nil, &DataUnavailableError{chrom}
	}

	start, end := window.FetchStart, window.FetchEnd
	if window.Unbounded {
		start, end = 0, lastPosition(lrr, baf)
	}
	scale := plot.Scale(window.Width, start, end)
	if scale == 0 {
		return nil, fmt.Errorf("%w: empty window %s:%d-%d", genomics.ErrInvalidRegion, chrom, start, end)
	}

	mapping := plot.Mapping{
		Layout:     layout,
		Origin:     req.XPos - window.Padding,
		FetchStart: start,
		Scale:      scale,
		Median:     req.Median,
	}
	lrrPoints, bafPoints := plot.Map(mapping, lrr, baf)
	if len(lrrPoints) == 0 || len(bafPoints) == 0 {
		return nil, ErrNotFound
	}

	response := &Response{
		Data:   plot.Flatten(lrrPoints),
		BAF:    plot.Flatten(bafPoints),
		Status: "ok",
		Chrom:  chrom,
		XPos:   req.XPos,
		YPos:   req.YPos,
		Start:  window.Region.Start,
		End:    window.Region.End,
	}
	if window.Unbounded {
		response.Start, response.End = start, end
	}
	return response, nil
}

// query reads all records of key from source within the query timeout.  It
// returns no records when the query fails or times out.
func (s *Service) query(ctx context.Context, name string, source track.Source, key string, r track.Range) [][]string {
	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	begin := time.Now()
	it := source.Query(ctx, key, r)
	records := it.Collect()
	elapsed := time.Since(begin)

	s.Metrics.ObserveQuery(name, elapsed, len(records))
	analytics.TrackerFromContext(ctx)(analytics.QueryTiming(name, key, elapsed))
	if it.Err() != nil {
		// A failed or interrupted query is never plotted partially.
		return nil
	}
	return records
}

func lastPosition(lrr, baf [][]string) int64 {
	var end int64
	for _, records := range [][][]string{lrr, baf} {
		if position, ok := plot.LastPosition(records); ok && position > end {
			end = position
		}
	}
	return end
}
