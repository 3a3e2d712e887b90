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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var errUnsupportedWhence = errors.New("only seeking from the start or current offset is supported")

// Reader is an io.ReadSeeker over an ObjectHandle.  Each seek that moves the
// offset opens a new range reader on the next read.
type Reader struct {
	ctx    context.Context
	handle ObjectHandle
	offset int64
	body   io.ReadCloser
}

// NewReader returns a Reader positioned at the start of the object.
func NewReader(ctx context.Context, handle ObjectHandle) *Reader {
	return &Reader{ctx: ctx, handle: handle}
}

func (r *Reader) Read(b []byte) (int, error) {
	if r.body == nil {
		body, err := r.handle.NewRangeReader(r.ctx, r.offset, -1)
		if err != nil {
			return 0, err
		}
		r.body = body
	}
	n, err := r.body.Read(b)
	r.offset += int64(n)
	return n, err
}

// Seek sets the offset for the next read.  io.SeekEnd is not supported since
// object sizes are not known.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.offset
	default:
		return r.offset, errUnsupportedWhence
	}
	if offset < 0 {
		return r.offset, fmt.Errorf("negative offset %d", offset)
	}
	if offset != r.offset {
		if err := r.closeBody(); err != nil {
			return r.offset, err
		}
		r.offset = offset
	}
	return r.offset, nil
}

func (r *Reader) closeBody() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}

// Close releases the underlying range reader, if any.
func (r *Reader) Close() error {
	return r.closeBody()
}
