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
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/googlegenomics/coviz/internal/bgzf"
	"github.com/googlegenomics/coviz/internal/binary"
	"github.com/googlegenomics/coviz/internal/index"
)

type reference struct {
	// bins maps a bin ID to the chunks holding records in that bin.
	bins map[uint32][]bgzf.Chunk
	// linear holds the smallest offset of a record overlapping each window.
	linear []bgzf.Address
}

// Build reads a position-sorted BGZF file from r and returns a TBI index
// describing it.  Records of each reference must be contiguous and sorted by
// begin position.  The index is read back with Read's TBI reader, so it can be
// queried as well as written.
func Build(r io.Reader, header Header) (*Index, error) {
	b, err := build(r, header)
	if err != nil {
		return nil, err
	}
	encoded, err := b.encode()
	if err != nil {
		return nil, err
	}
	idx, err := readTBI(encoded)
	if err != nil {
		return nil, fmt.Errorf("reading built index: %v", err)
	}
	idx.Header = header
	idx.encoded = encoded
	return idx, nil
}

func build(r io.Reader, header Header) (*builder, error) {
	if err := header.validate(); err != nil {
		return nil, err
	}
	b := &builder{
		header:  header,
		scheme:  index.TabixScheme,
		ids:     make(map[string]int),
		current: -1,
	}

	blocks := bgzf.NewBlockReader(r)
	var (
		line   []byte
		start  bgzf.Address
		inLine bool
	)
	for {
		data, offset, err := blocks.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading data: %v", err)
		}
		for i := 0; i < len(data); {
			if !inLine {
				start, inLine = bgzf.NewAddress(offset, uint16(i)), true
			}
			n := bytes.IndexByte(data[i:], '\n')
			if n < 0 {
				line = append(line, data[i:]...)
				break
			}
			line = append(line, data[i:i+n]...)
			i += n + 1

			end := bgzf.NewAddress(offset, uint16(i))
			if i == len(data) {
				end = bgzf.NewAddress(blocks.Offset(), 0)
			}
			if err := b.add(string(line), start, end); err != nil {
				return nil, err
			}
			line, inLine = line[:0], false
		}
	}
	if inLine && len(line) > 0 {
		if err := b.add(string(line), start, bgzf.NewAddress(blocks.Offset(), 0)); err != nil {
			return nil, err
		}
	}
	b.finish()
	return b, nil
}

type builder struct {
	header    Header
	scheme    index.Scheme
	names     []string
	ids       map[string]int
	refs      []*reference
	lines     int
	current   int
	lastBegin int64
}

func (b *builder) add(line string, start, end bgzf.Address) error {
	b.lines++
	line = strings.TrimRight(line, "\r")
	if b.lines <= int(b.header.Skip) || line == "" || b.header.isMeta(line) {
		return nil
	}

	fields := strings.Fields(line)
	name, ok := b.header.name(fields)
	if !ok {
		return fmt.Errorf("line %d: missing sequence column %d", b.lines, b.header.SeqColumn)
	}
	begin, stop, err := b.header.interval(fields)
	if err != nil {
		return fmt.Errorf("line %d: %v", b.lines, err)
	}
	if stop > b.scheme.MaximumWidth() {
		return fmt.Errorf("line %d: position %d exceeds the indexable range", b.lines, stop)
	}

	if b.current < 0 || b.names[b.current] != name {
		if _, ok := b.ids[name]; ok {
			return fmt.Errorf("line %d: records for %q are not contiguous", b.lines, name)
		}
		b.ids[name] = len(b.names)
		b.names = append(b.names, name)
		b.refs = append(b.refs, &reference{bins: make(map[uint32][]bgzf.Chunk)})
		b.current = len(b.names) - 1
	} else if begin < b.lastBegin {
		return fmt.Errorf("line %d: records for %q are not sorted", b.lines, name)
	}
	b.lastBegin = begin

	ref := b.refs[b.current]
	bin := b.scheme.Bin(begin, stop)
	chunks := ref.bins[bin]
	if n := len(chunks); n > 0 && chunks[n-1].End == start {
		chunks[n-1].End = end
	} else {
		ref.bins[bin] = append(chunks, bgzf.Chunk{Start: start, End: end})
	}

	for w := b.scheme.Window(begin); w <= b.scheme.Window(stop-1); w++ {
		for len(ref.linear) <= w {
			ref.linear = append(ref.linear, bgzf.LastAddress)
		}
		if ref.linear[w] == bgzf.LastAddress {
			ref.linear[w] = start
		}
	}
	return nil
}

// finish fills the windows of the linear index that no record overlaps.  A
// window inherits the offset of the preceding window, which is a valid lower
// bound for any record starting after it.
func (b *builder) finish() {
	for _, ref := range b.refs {
		var first bgzf.Address
		for _, offset := range ref.linear {
			if offset != bgzf.LastAddress {
				first = offset
				break
			}
		}
		previous := first
		for i, offset := range ref.linear {
			if offset == bgzf.LastAddress {
				ref.linear[i] = previous
			}
			previous = ref.linear[i]
		}
	}
}

// encode returns the uncompressed TBI encoding of the index.
func (b *builder) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(tbiMagic)
	if err := binary.Write(&buf, int32(len(b.names))); err != nil {
		return nil, fmt.Errorf("writing reference count: %v", err)
	}
	if err := binary.Write(&buf, b.header); err != nil {
		return nil, fmt.Errorf("writing header: %v", err)
	}
	if err := binary.WriteNames(&buf, b.names); err != nil {
		return nil, err
	}
	for _, ref := range b.refs {
		ids := make([]uint32, 0, len(ref.bins))
		for id := range ref.bins {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if err := binary.Write(&buf, int32(len(ids))); err != nil {
			return nil, fmt.Errorf("writing bin count: %v", err)
		}
		for _, id := range ids {
			chunks := ref.bins[id]
			if err := binary.Write(&buf, struct {
				ID     uint32
				Chunks int32
			}{id, int32(len(chunks))}); err != nil {
				return nil, fmt.Errorf("writing bin header: %v", err)
			}
			if err := binary.Write(&buf, chunks); err != nil {
				return nil, fmt.Errorf("writing chunks: %v", err)
			}
		}
		if err := binary.Write(&buf, int32(len(ref.linear))); err != nil {
			return nil, fmt.Errorf("writing interval count: %v", err)
		}
		if err := binary.Write(&buf, ref.linear); err != nil {
			return nil, fmt.Errorf("writing offsets: %v", err)
		}
	}
	return buf.Bytes(), nil
}

// Write writes idx to w as a BGZF compressed TBI index.  Only indexes
// returned by Build can be written.
func Write(w io.Writer, idx *Index) error {
	if idx.encoded == nil {
		return errors.New("index was not built from data")
	}
	bw := bgzf.NewWriter(w)
	if _, err := bw.Write(idx.encoded); err != nil {
		return err
	}
	return bw.Close()
}
