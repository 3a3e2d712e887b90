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
	"fmt"
	"io"
	"os"
)

// FileClient is a Client for local files.  The bucket of a handle is ignored.
type FileClient struct{}

// NewObjectHandle returns a handle to the file at path object.
func (FileClient) NewObjectHandle(_, object string) ObjectHandle {
	return fileObjectHandle{object}
}

type fileObjectHandle struct {
	path string
}

type fileRangeReader struct {
	io.Reader
	*os.File
}

func (r fileRangeReader) Read(b []byte) (int, error) {
	return r.Reader.Read(b)
}

func (h fileObjectHandle) NewRangeReader(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, h.path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, h.path)
		}
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking to %d: %v", offset, err)
	}

	var r io.Reader = f
	if length >= 0 {
		r = io.LimitReader(f, length)
	}
	return fileRangeReader{r, f}, nil
}
