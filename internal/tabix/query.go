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

package tabix

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	hts "github.com/biogo/hts/bgzf"
)

// Iterator walks the records of one reference that overlap a query interval,
// in file order.  It cannot be restarted.
type Iterator struct {
	idx        *Index
	id         int
	name       string
	start, end int64
	whole      bool

	data   *hts.Reader
	lines  *bufio.Reader
	seen   bool
	done   bool
	fields []string
	err    error
}

// Query returns an Iterator over the records of the named reference that
// overlap the zero-based, half-open interval [start, end) in the BGZF data
// read from rs.  An end of zero or less selects the whole reference.
func (idx *Index) Query(rs io.ReadSeeker, name string, start, end int64) (*Iterator, error) {
	chunks, err := idx.Chunks(name, start, end)
	if err != nil {
		return nil, err
	}
	it := &Iterator{
		idx:   idx,
		id:    idx.ids[name],
		name:  name,
		start: start,
		end:   end,
		whole: end <= 0,
	}
	if len(chunks) == 0 {
		it.done = true
		return it, nil
	}

	data, err := hts.NewReader(rs, 1)
	if err != nil {
		return nil, fmt.Errorf("opening data: %v", err)
	}
	first := chunks[0].Begin
	if err := data.Seek(first); err != nil {
		data.Close()
		return nil, fmt.Errorf("seeking to %v: %v", first, err)
	}
	it.data = data
	it.lines = bufio.NewReader(data)
	return it, nil
}

// Next advances to the next overlapping record and reports whether there is
// one.
func (it *Iterator) Next() bool {
	for !it.done {
		line, err := it.lines.ReadString('\n')
		if err != nil && err != io.EOF {
			it.err = fmt.Errorf("reading records: %v", err)
			it.done = true
			return false
		}
		if err == io.EOF {
			it.done = true
			if line == "" {
				return false
			}
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" || it.idx.isMeta(line) {
			continue
		}
		fields := strings.Fields(line)
		name, ok := it.idx.name(fields)
		if !ok {
			continue
		}
		if name != it.name {
			if id, ok := it.idx.ids[name]; (ok && id > it.id) || it.seen {
				it.done = true
				return false
			}
			continue
		}
		it.seen = true

		begin, stop, err := it.idx.interval(fields)
		if err != nil {
			continue
		}
		if !it.whole {
			if begin >= it.end {
				it.done = true
				return false
			}
			if stop <= it.start {
				continue
			}
		}
		it.fields = fields
		return true
	}
	return false
}

// Fields returns the whitespace separated fields of the current record.
func (it *Iterator) Fields() []string {
	return it.fields
}

// Err returns the first error encountered while reading records.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the resources held by the iterator.
func (it *Iterator) Close() error {
	it.done = true
	if it.data == nil {
		return nil
	}
	return it.data.Close()
}
