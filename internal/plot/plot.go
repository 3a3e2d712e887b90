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

// Package plot translates genomic regions and track records into the pixel
// coordinates of the stacked LRR and BAF graphs.
package plot

import (
	"errors"
	"math"
	"strconv"

	"github.com/googlegenomics/coviz/internal/genomics"
)

var errInvalidWidth = errors.New("plot width must be positive")

var aliases = map[string]string{
	"23": "X",
	"24": "Y",
}

// Chromosome returns the canonical name for chrom, translating the numeric
// aliases of the sex chromosomes.
func Chromosome(chrom string) string {
	if alias, ok := aliases[chrom]; ok {
		return alias
	}
	return chrom
}

// Layout holds the vertical placement of the two graphs.
type Layout struct {
	AmplitudeLRR, AmplitudeBAF float64
	BaselineLRR, BaselineBAF   float64
}

// NewLayout computes the layout for a box of the given height whose top edge
// is at y.
func NewLayout(boxHeight, y, margin float64) Layout {
	return Layout{
		AmplitudeBAF: boxHeight - 2*margin,
		AmplitudeLRR: (boxHeight - 2*margin) / 8,
		BaselineBAF:  y + boxHeight - margin,
		BaselineLRR:  y + 1.5*boxHeight,
	}
}

// Window is the genomic range to fetch for a region along with the pixel
// width it is drawn into.
type Window struct {
	Region genomics.Region
	// FetchStart and FetchEnd are the padded query bounds.  They are unset
	// when Unbounded is true.
	FetchStart, FetchEnd int64
	Unbounded            bool
	// Width is the total plot width in pixels including padding on both
	// sides.
	Width float64
	// Padding is the number of pixels drawn outside the region on each side.
	Padding float64
}

// Resolve computes the fetch window for region drawn width pixels wide with
// extra pixels of padding on either side.
func Resolve(region genomics.Region, width, extra float64) (Window, error) {
	if width <= 0 {
		return Window{}, errInvalidWidth
	}
	region.Chromosome = Chromosome(region.Chromosome)
	if region.Start < 0 {
		region.End += region.Start
		region.Start = 0
	}

	if region.Unbounded {
		region.Start = 0
		return Window{Region: region, Unbounded: true, Width: width}, nil
	}

	bpp := float64(region.End-region.Start) / width
	return Window{
		Region:     region,
		FetchStart: int64(float64(region.Start) - extra*bpp),
		FetchEnd:   int64(float64(region.End) + extra*bpp),
		Width:      width + 2*extra,
		Padding:    extra,
	}, nil
}

// Scale returns the number of pixels per base pair for a plot width pixels
// wide covering [start, end).  It returns zero for an empty range.
func Scale(width float64, start, end int64) float64 {
	if end <= start {
		return 0
	}
	return width / float64(end-start)
}

// Point is a pixel coordinate.  The third coordinate is always zero.
type Point struct {
	X, Y float64
}

// Flatten returns points as a flat [x, y, 0, ...] slice.
func Flatten(points []Point) []float64 {
	out := make([]float64, 0, 3*len(points))
	for _, p := range points {
		out = append(out, p.X, p.Y, 0)
	}
	return out
}

// Mapping holds the parameters that transform records into points.
type Mapping struct {
	Layout Layout
	// Origin is the pixel x coordinate of FetchStart.
	Origin     float64
	FetchStart int64
	// Scale is in pixels per base pair.
	Scale float64
	// Median is the median sequencing depth of the sample.
	Median float64
}

// Position returns the position and value of a record, which are the second
// and fourth fields.
func Position(fields []string) (int64, float64, bool) {
	if len(fields) < 4 {
		return 0, 0, false
	}
	position, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	value, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return 0, 0, false
	}
	return position, value, true
}

func (m *Mapping) x(position int64) float64 {
	return m.Origin + m.Scale*float64(position-m.FetchStart)
}

// LRR maps coverage records to points on the LRR graph.
func (m *Mapping) LRR(records [][]string) []Point {
	return m.points(records, func(depth float64) float64 {
		return m.Layout.BaselineLRR - m.Layout.AmplitudeLRR*math.Log2(depth/m.Median+1)
	})
}

// BAF maps allele frequency records to points on the BAF graph.
func (m *Mapping) BAF(records [][]string) []Point {
	return m.points(records, func(frequency float64) float64 {
		return m.Layout.BaselineBAF - m.Layout.AmplitudeBAF*frequency
	})
}

func (m *Mapping) points(records [][]string, y func(float64) float64) []Point {
	points := make([]Point, 0, len(records))
	for _, fields := range records {
		position, value, ok := Position(fields)
		if !ok {
			continue
		}
		p := Point{X: m.x(position), Y: y(value)}
		if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) || math.IsNaN(p.X) || math.IsInf(p.X, 0) {
			continue
		}
		points = append(points, p)
	}
	return points
}

// Map transforms both tracks into points.
func Map(m Mapping, lrr, baf [][]string) (lrrPoints, bafPoints []Point) {
	return m.LRR(lrr), m.BAF(baf)
}

// LastPosition returns the position of the last well formed record.
func LastPosition(records [][]string) (int64, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if position, _, ok := Position(records[i]); ok {
			return position, true
		}
	}
	return 0, false
}
