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

// Package index contains support for the hierarchical binning scheme shared
// by the TBI and CSI index formats.
package index

// TabixScheme is the fixed binning scheme used by TBI indexes: 16kbp minimal
// intervals and a depth of 5 levels, covering 512Mbp per reference.
var TabixScheme = Scheme{MinShift: 14, Depth: 5}

// Scheme describes a binning index by the number of bits for the minimal
// interval and the depth of the binning index.
type Scheme struct {
	MinShift int32
	Depth    int32
}

// MaximumWidth returns the largest position that can be indexed by s.
func (s Scheme) MaximumWidth() int64 {
	return int64(1) << uint(s.MinShift+s.Depth*3)
}

// Window returns the index of the linear index window containing pos.
func (s Scheme) Window(pos int64) int {
	return int(pos >> uint(s.MinShift))
}

// Bin returns the ID of the smallest bin that fully contains the zero-based,
// half-open interval [start, end).
func (s Scheme) Bin(start, end int64) uint32 {
	end--
	sh := uint(s.MinShift)
	t := uint64(((1 << uint(s.Depth*3)) - 1) / 7)
	for l := s.Depth; l > 0; l-- {
		if start>>sh == end>>sh {
			return uint32(t + uint64(start>>sh))
		}
		sh += 3
		t -= 1 << uint((l-1)*3)
	}
	return 0
}
