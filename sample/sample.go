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

// Package sample loads the metadata describing the sequenced sample whose
// tracks are displayed.
package sample

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/googlegenomics/coviz/storage"
)

var errInvalidMedian = errors.New("median depth must be a positive number")

// Info describes a sample.
type Info struct {
	Name string `json:"sample_name"`
	// MedianDepth is the median sequencing depth, used to normalise coverage
	// into log ratios.
	MedianDepth float64 `json:"median_depth"`
}

// depth accepts both JSON numbers and numeric strings.
type depth float64

func (d *depth) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("parsing median depth %q: %v", s, err)
		}
		*d = depth(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parsing median depth: %v", err)
	}
	*d = depth(v)
	return nil
}

// Parse decodes sample metadata of the form
// {"sample_name": "NA12878", "median_depth": 31.5}.
func Parse(data []byte) (Info, error) {
	var raw struct {
		Name        string `json:"sample_name"`
		MedianDepth *depth `json:"median_depth"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Info{}, fmt.Errorf("decoding sample metadata: %v", err)
	}
	if raw.MedianDepth == nil {
		return Info{}, fmt.Errorf("decoding sample metadata: missing median_depth")
	}
	info := Info{Name: raw.Name, MedianDepth: float64(*raw.MedianDepth)}
	if !(info.MedianDepth > 0) {
		return Info{}, fmt.Errorf("%w: got %v", errInvalidMedian, info.MedianDepth)
	}
	return info, nil
}

// Load reads and parses the sample metadata stored at location.
func Load(ctx context.Context, resolver *storage.Resolver, location storage.Location) (Info, error) {
	data, err := resolver.ReadAll(ctx, location)
	if err != nil {
		return Info{}, err
	}
	info, err := Parse(data)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %v", location, err)
	}
	return info, nil
}
