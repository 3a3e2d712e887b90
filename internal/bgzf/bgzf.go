// Copyright 2017 Google Inc.
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

// Package bgzf provides support for reading and writing BGZF files.
package bgzf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// LastAddress is the maximum valid BGZF address.
const LastAddress = Address(0xffffffffffffffff)

// MaximumBlockSize is the maximum BGZF block size.
const MaximumBlockSize = 65536

// BlockDataSize is the amount of uncompressed data packed into each block by
// Writer.  It leaves room for the gzip framing of incompressible input.
const BlockDataSize = 0xff00

// Address stores a BGZF "virtual address".  The lower 16 bits store the data
// offset inside the uncompressed stream and upper 48 bits store the block
// offset inside the compressed archive set.
type Address uint64

// NewAddress returns a new Address with the provided offsets.
func NewAddress(blockOffset uint64, dataOffset uint16) Address {
	return Address(blockOffset<<16 | uint64(dataOffset))
}

// Chunk specifies a region from Start to End (inclusive) inside a BGZF file.
type Chunk struct {
	Start, End Address
}

// DecodeBlock decodes a single BGZF block from r and returns the uncompressed
// data and the original block size (or an error).  Note that DecodeBlock may
// read bytes past the end of the block if r does not implement io.ByteReader.
func DecodeBlock(r io.Reader) ([]byte, uint16, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	extra := gzr.Header.Extra
	if len(extra) < 6 {
		return nil, 0, fmt.Errorf("missing BGZF extra field (%d bytes)", len(extra))
	}
	if extra[0] != 0x42 || extra[1] != 0x43 {
		return nil, 0, fmt.Errorf("unexpected extra ID: %x", extra[0:2])
	}
	if extra[2] != 2 || extra[3] != 0 {
		return nil, 0, fmt.Errorf("unexpected extra length: %x", extra[2:4])
	}

	gzr.Multistream(false)
	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, gzr); err != nil {
		return nil, 0, fmt.Errorf("decompressing data: %v", err)
	}
	return buffer.Bytes(), (uint16(extra[4]) | uint16(extra[5])<<8) + 1, nil
}

// EncodeBlock returns a single BGZF block that encodes the bytes in data.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > MaximumBlockSize {
		return nil, errors.New("data exceeds maximum block size")
	}

	var buffer bytes.Buffer
	gzw := gzip.NewWriter(&buffer)

	gzw.Header.Extra = []byte{
		0x42, 0x43, // Extra ID.
		0x02, 0x00, // Length of extra data (2 bytes).
		0x88, 0x88, // BSIZE (filled in after writing the archive).
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("writing compressed data: %v", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %v", err)
	}
	if buffer.Len() > MaximumBlockSize {
		return nil, fmt.Errorf("compressed block too large (%d bytes)", buffer.Len())
	}
	bsize := buffer.Len() - 1
	encoded := buffer.Bytes()
	encoded[16] = byte(bsize)
	encoded[17] = byte(bsize >> 8)
	return encoded, nil
}

// BlockReader decodes consecutive BGZF blocks while tracking the compressed
// offset of each one.
type BlockReader struct {
	r      *bufio.Reader
	offset uint64
}

// NewBlockReader returns a BlockReader that reads blocks from r, which must be
// positioned at the start of a block.
func NewBlockReader(r io.Reader) *BlockReader {
	return &BlockReader{r: bufio.NewReader(r)}
}

// Next returns the uncompressed data of the next block and the compressed
// offset at which the block starts.  It returns io.EOF after the last block.
func (br *BlockReader) Next() ([]byte, uint64, error) {
	if _, err := br.r.Peek(1); err == io.EOF {
		return nil, br.offset, io.EOF
	}
	data, length, err := DecodeBlock(br.r)
	if err != nil {
		return nil, br.offset, fmt.Errorf("block at offset %d: %v", br.offset, err)
	}
	offset := br.offset
	br.offset += uint64(length)
	return data, offset, nil
}

// Offset returns the compressed offset of the next block.
func (br *BlockReader) Offset() uint64 {
	return br.offset
}

// Writer compresses data written to it into a series of BGZF blocks.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer that writes BGZF blocks to w.  Close must be
// called to flush buffered data and write the EOF marker.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, BlockDataSize)}
}

// Write buffers p, emitting a block each time BlockDataSize bytes are
// buffered.
func (w *Writer) Write(p []byte) (int, error) {
	var n int
	for len(p) > 0 {
		room := BlockDataSize - len(w.buf)
		if room > len(p) {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
		p = p[room:]
		n += room
		if len(w.buf) == BlockDataSize {
			if err := w.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush writes any buffered data as a single block.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.writeBlock(w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes buffered data and appends the empty EOF marker block.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.writeBlock(nil)
}

func (w *Writer) writeBlock(data []byte) error {
	block, err := EncodeBlock(data)
	if err != nil {
		return fmt.Errorf("encoding block: %v", err)
	}
	if _, err := w.w.Write(block); err != nil {
		return fmt.Errorf("writing block: %v", err)
	}
	return nil
}
