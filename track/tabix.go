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
	"sync"

	"github.com/googlegenomics/coviz/internal/tabix"
	"github.com/googlegenomics/coviz/storage"
)

// Index file suffixes, in the order they are tried.
var indexSuffixes = []string{".tbi", ".csi"}

// TabixSource queries a BGZF compressed file using its tabix or CSI index.
// The index is loaded on first use and cached.
type TabixSource struct {
	resolver *storage.Resolver
	location storage.Location

	mu    sync.Mutex
	index *tabix.Index
}

// NewTabixSource returns a Source reading the data at location through
// resolver.
func NewTabixSource(resolver *storage.Resolver, location storage.Location) *TabixSource {
	return &TabixSource{resolver: resolver, location: location}
}

func (s *TabixSource) String() string {
	return s.location.String()
}

// loadIndex returns the cached index, reading it first if needed.  The read
// happens outside the lock so concurrent queries do not wait on each other;
// the first index stored wins.
func (s *TabixSource) loadIndex(ctx context.Context) (*tabix.Index, error) {
	s.mu.Lock()
	idx := s.index
	s.mu.Unlock()
	if idx != nil {
		return idx, nil
	}

	idx, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		s.index = idx
	}
	return s.index, nil
}

func (s *TabixSource) readIndex(ctx context.Context) (*tabix.Index, error) {
	var errs []error
	for _, suffix := range indexSuffixes {
		location := s.location.WithSuffix(suffix)
		data, err := s.resolver.ReadAll(ctx, location)
		if errors.Is(err, storage.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		idx, err := tabix.Read(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("reading index %s: %v", location, err)
		}
		return idx, nil
	}
	return nil, fmt.Errorf("no index for %s: %w", s.location, errors.Join(errs...))
}

// Query returns the records of key overlapping r.
func (s *TabixSource) Query(ctx context.Context, key string, r Range) *Records {
	name := fmt.Sprintf("%s %s", s.location, Region(key, r))
	start, end := int64(0), int64(0)
	if !r.All {
		start, end = r.Start-1, r.End
		if start < 0 {
			start = 0
		}
		if end <= start {
			return Slice(nil)
		}
	}

	idx, err := s.loadIndex(ctx)
	if err != nil {
		return failed(name, err)
	}
	handle, err := s.resolver.Open(s.location)
	if err != nil {
		return failed(name, err)
	}
	data := storage.NewReader(ctx, handle)
	it, err := idx.Query(data, key, start, end)
	if err != nil {
		data.Close()
		return failed(name, err)
	}
	return newRecords(ctx, name, it, data.Close)
}
