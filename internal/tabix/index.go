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

// Package tabix contains support for reading, writing and querying the
// tabix indexes (TBI, and CSI with tabix metadata) that accompany
// position-sorted, BGZF-compressed tabular files.
package tabix

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"

	hts "github.com/biogo/hts/bgzf"
	htsindex "github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/csi"
	"github.com/biogo/hts/tabix"
	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/coviz/internal/binary"
	"github.com/googlegenomics/coviz/internal/index"
)

const (
	tbiMagic = "TBI\x01"
	csiMagic = "CSI"

	// The tabix header stored in a CSI auxiliary block is six int32 values
	// followed by the length of the names block.
	csiAuxHeaderSize = 7 * 4
)

// Record formats stored in the index header.
const (
	FormatGeneric = 0
	FormatSAM     = 1
	FormatVCF     = 2

	// FlagZeroBased marks files whose begin column is zero-based (BED style).
	FlagZeroBased = 0x10000
)

// ErrUnknownReference is returned when a query names a reference that does
// not appear in the index.
var ErrUnknownReference = errors.New("unknown reference")

// Header describes how records are laid out in an indexed file.  Column
// numbers are 1-based; an EndColumn of zero means records span one base.
type Header struct {
	Format      int32
	SeqColumn   int32
	BeginColumn int32
	EndColumn   int32
	Meta        int32
	Skip        int32
}

// BEDHeader is the layout of BED-like files: name, zero-based begin and end
// in the first three columns, with '#' comments.
var BEDHeader = Header{
	Format:      FormatGeneric | FlagZeroBased,
	SeqColumn:   1,
	BeginColumn: 2,
	EndColumn:   3,
	Meta:        '#',
}

// ZeroBased reports whether the begin column holds zero-based positions.
func (h Header) ZeroBased() bool {
	return h.Format&FlagZeroBased != 0
}

func (h Header) validate() error {
	if h.SeqColumn < 1 || h.BeginColumn < 1 || h.EndColumn < 0 {
		return fmt.Errorf("invalid columns (seq %d, begin %d, end %d)", h.SeqColumn, h.BeginColumn, h.EndColumn)
	}
	return nil
}

// interval returns the zero-based, half-open interval covered by a record.
// A missing or unparsable end column makes the record span a single base.
func (h Header) interval(fields []string) (int64, int64, error) {
	if int(h.BeginColumn) > len(fields) {
		return 0, 0, fmt.Errorf("missing begin column %d", h.BeginColumn)
	}
	begin, err := strconv.ParseInt(fields[h.BeginColumn-1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing begin: %v", err)
	}
	if !h.ZeroBased() {
		begin--
	}
	if begin < 0 {
		begin = 0
	}
	end := begin + 1
	if h.EndColumn > 0 && int(h.EndColumn) <= len(fields) {
		if v, err := strconv.ParseInt(fields[h.EndColumn-1], 10, 64); err == nil && v > begin {
			end = v
		}
	}
	return begin, end, nil
}

func (h Header) name(fields []string) (string, bool) {
	if int(h.SeqColumn) > len(fields) {
		return "", false
	}
	return fields[h.SeqColumn-1], true
}

func (h Header) isMeta(line string) bool {
	return h.Meta > 0 && len(line) > 0 && rune(line[0]) == rune(h.Meta)
}

// lookup finds the chunks of a reference overlapping an interval.
type lookup interface {
	chunks(id int, name string, start, end int64) ([]hts.Chunk, error)
}

type tbiLookup struct {
	idx *tabix.Index
}

func (l tbiLookup) chunks(_ int, name string, start, end int64) ([]hts.Chunk, error) {
	chunks, err := l.idx.Chunks(name, int(start), int(end))
	if errors.Is(err, htsindex.ErrInvalid) {
		// The interval starts past the last record of the reference.
		return nil, nil
	}
	return chunks, err
}

type csiLookup struct {
	idx *csi.Index
}

func (l csiLookup) chunks(id int, _ string, start, end int64) ([]hts.Chunk, error) {
	return l.idx.Chunks(id, int(start), int(end)), nil
}

// Index holds a parsed tabix index.  It is read-only once constructed and may
// be shared between goroutines.
type Index struct {
	Header
	Scheme index.Scheme
	Names  []string

	ids    map[string]int
	lookup lookup
	// encoded holds the uncompressed TBI encoding of built indexes.
	encoded []byte
}

// ID returns the position of the named reference in the index, which is also
// its position in the indexed file.
func (idx *Index) ID(name string) (int, bool) {
	id, ok := idx.ids[name]
	return id, ok
}

func (idx *Index) setNames(names []string) error {
	idx.Names = names
	idx.ids = make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := idx.ids[name]; ok {
			return fmt.Errorf("duplicate reference name %q", name)
		}
		idx.ids[name] = i
	}
	return nil
}

// Chunks returns the BGZF chunks that may contain records of the named
// reference overlapping the zero-based, half-open interval [start, end), in
// file order.  An end of zero or less selects the whole reference.
func (idx *Index) Chunks(name string, start, end int64) ([]hts.Chunk, error) {
	id, ok := idx.ids[name]
	if !ok || idx.lookup == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownReference, name)
	}
	if start < 0 {
		start = 0
	}
	if limit := idx.Scheme.MaximumWidth(); end <= 0 || end > limit {
		end = limit
	}
	if start >= end {
		return nil, nil
	}
	return idx.lookup.chunks(id, name, start, end)
}

// Read reads a TBI or CSI index from r.  Both formats are BGZF compressed.
func Read(r io.Reader) (*Index, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	data, err := ioutil.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("decompressing index: %v", err)
	}
	switch {
	case bytes.HasPrefix(data, []byte(tbiMagic)):
		return readTBI(data)
	case bytes.HasPrefix(data, []byte(csiMagic)):
		return readCSI(data)
	}
	return nil, fmt.Errorf("unsupported index magic %q", data[:min(len(data), len(tbiMagic))])
}

func readTBI(data []byte) (*Index, error) {
	t, err := tabix.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading tbi index: %v", err)
	}
	idx := &Index{Scheme: index.TabixScheme}
	if t == nil {
		// An index of an empty file has no references and no header.
		return idx, idx.setNames(nil)
	}
	idx.Header = Header{
		Format:      int32(t.Format),
		SeqColumn:   t.NameColumn,
		BeginColumn: t.BeginColumn,
		EndColumn:   t.EndColumn,
		Meta:        t.MetaChar,
		Skip:        t.Skip,
	}
	if t.ZeroBased {
		idx.Format |= FlagZeroBased
	}
	if err := idx.setNames(t.Names()); err != nil {
		return nil, err
	}
	idx.lookup = tbiLookup{t}
	return idx, nil
}

func readCSI(data []byte) (*Index, error) {
	var header struct {
		Magic  [4]byte
		Scheme index.Scheme
	}
	if err := binary.Read(bytes.NewReader(data), &header); err != nil {
		return nil, fmt.Errorf("reading the csi header: %v", err)
	}
	c, err := csi.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading csi index: %v", err)
	}
	if len(c.Auxilliary) < csiAuxHeaderSize {
		return nil, fmt.Errorf("csi index has no tabix metadata (%d auxiliary bytes)", len(c.Auxilliary))
	}

	idx := &Index{Scheme: header.Scheme}
	aux := bytes.NewReader(c.Auxilliary)
	if err := binary.Read(aux, &idx.Header); err != nil {
		return nil, fmt.Errorf("reading tabix header: %v", err)
	}
	names, err := binary.ReadNames(aux)
	if err != nil {
		return nil, fmt.Errorf("reading reference names: %v", err)
	}
	if len(names) != c.NumRefs() {
		return nil, fmt.Errorf("found %d names for %d references", len(names), c.NumRefs())
	}
	if err := idx.setNames(names); err != nil {
		return nil, err
	}
	idx.lookup = csiLookup{c}
	return idx, nil
}
