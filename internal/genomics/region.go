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

// Package genomics contains definitions related to genomic regions and the
// parsing of user supplied region strings.
package genomics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unbounded is the token used in region strings for an absent position.
const Unbounded = "None"

// Size thresholds (in base pairs) separating the resolution tiers.
const (
	tierASize = 25000000
	tierBSize = 3000000
	tierCSize = 200000
)

// ErrInvalidRegion is returned for region strings that cannot be parsed.
var ErrInvalidRegion = errors.New("invalid region")

// Tier selects the granularity of pre-aggregated data used for a region.
type Tier string

// Resolution tiers, coarsest first.
const (
	TierA Tier = "a"
	TierB Tier = "b"
	TierC Tier = "c"
	TierD Tier = "d"
)

// TierForSize returns the resolution tier for a region spanning size base
// pairs.  Larger regions use coarser tiers.
func TierForSize(size int64) Tier {
	switch {
	case size > tierASize:
		return TierA
	case size > tierBSize:
		return TierB
	case size > tierCSize:
		return TierC
	}
	return TierD
}

// Region defines a region of genomic interest.
type Region struct {
	Tier       Tier
	Chromosome string
	// Start and End are base pair positions.  End is meaningless when
	// Unbounded is set, which requests all data for the chromosome.
	Start, End int64
	Unbounded  bool
}

// Size returns the number of base pairs spanned by a bounded region.
func (region Region) Size() int64 {
	return region.End - region.Start
}

func (region Region) String() string {
	if region.Unbounded {
		return fmt.Sprintf("%s:%d-%s", region.Chromosome, region.Start, Unbounded)
	}
	return fmt.Sprintf("%s:%d-%d", region.Chromosome, region.Start, region.End)
}

// ParseRegion parses a region string of the form "chrom:start-end" or
// "chrom start end".  The end may be "None" for an unbounded region.  A
// negative start may be encoded with an empty leading token, as in
// "chrom:-500-1500", which denotes the span from -500 to 1500.  Negative
// starts are moved to zero keeping the span length.
func ParseRegion(input string) (Region, error) {
	var chrom, start, end string
	if strings.Contains(input, ":") && strings.Contains(input, "-") {
		parts := strings.Split(input, ":")
		if len(parts) != 2 {
			return Region{}, fmt.Errorf("%w %q: expected a single ':'", ErrInvalidRegion, input)
		}
		chrom = parts[0]
		positions := strings.Split(parts[1], "-")
		switch {
		case len(positions) < 2:
			return Region{}, fmt.Errorf("%w %q: expected start-end", ErrInvalidRegion, input)
		case len(positions) > 3:
			return Region{}, fmt.Errorf("%w %q: too many positions", ErrInvalidRegion, input)
		case len(positions) == 3 && positions[0] == "":
			return parseNegativeStart(input, chrom, positions[1], positions[2])
		case len(positions) == 3:
			return Region{}, fmt.Errorf("%w %q: malformed range", ErrInvalidRegion, input)
		}
		start, end = positions[0], positions[1]
	} else {
		fields := strings.Fields(input)
		if len(fields) != 3 {
			return Region{}, fmt.Errorf("%w %q: expected chromosome, start and end", ErrInvalidRegion, input)
		}
		chrom, start, end = fields[0], fields[1], fields[2]
	}
	chrom = strings.TrimPrefix(chrom, "chr")

	if end == Unbounded {
		region := Region{Tier: TierA, Chromosome: chrom, Unbounded: true}
		if start != Unbounded {
			n, err := strconv.ParseInt(start, 10, 64)
			if err != nil {
				return Region{}, fmt.Errorf("%w %q: parsing start: %v", ErrInvalidRegion, input, err)
			}
			region.Start = n
		}
		return region, nil
	}

	s, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("%w %q: parsing start: %v", ErrInvalidRegion, input, err)
	}
	e, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("%w %q: parsing end: %v", ErrInvalidRegion, input, err)
	}
	return newRegion(input, chrom, s, e)
}

// parseNegativeStart handles the "chrom:-offset-end" encoding of a region
// starting offset base pairs before zero.
func parseNegativeStart(input, chrom, offset, end string) (Region, error) {
	o, err := strconv.ParseInt(offset, 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("%w %q: parsing start: %v", ErrInvalidRegion, input, err)
	}
	e, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("%w %q: parsing end: %v", ErrInvalidRegion, input, err)
	}
	return newRegion(input, strings.TrimPrefix(chrom, "chr"), -o, e)
}

func newRegion(input, chrom string, start, end int64) (Region, error) {
	if start < 0 {
		end -= start
		start = 0
	}
	if end < start {
		return Region{}, fmt.Errorf("%w %q: end before start", ErrInvalidRegion, input)
	}
	return Region{
		Tier:       TierForSize(end - start),
		Chromosome: chrom,
		Start:      start,
		End:        end,
	}, nil
}
