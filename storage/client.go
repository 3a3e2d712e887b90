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

// Package storage provides uniform ranged access to data files held on local
// disk, in Google Cloud Storage or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Schemes understood by ParseLocation.
const (
	SchemeFile = "file"
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
)

var (
	// ErrNotExist is returned when an object does not exist.
	ErrNotExist = errors.New("object does not exist")
	// ErrPermission is returned when access to an object is denied.
	ErrPermission = errors.New("permission denied")

	errInvalidLocation = errors.New("invalid location")
)

// Client is an interface to the storage engine.
type Client interface {
	// NewObjectHandle returns a handle to a specified object in
	// the storage engine.
	NewObjectHandle(bucket, object string) ObjectHandle
}

// ObjectHandle is an interface to the actual storage engine in use.
type ObjectHandle interface {
	// NewRangeReader returns a reader that reads from a specified
	// range. Length of -1 means to capture everything until the
	// end.
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// Location identifies an object.  Local files have an empty bucket and the
// path as the object.
type Location struct {
	Scheme, Bucket, Object string
}

// ParseLocation parses "gs://bucket/object", "s3://bucket/object",
// "file:///path" or a bare local path.
func ParseLocation(s string) (Location, error) {
	i := strings.Index(s, "://")
	if i < 0 {
		if s == "" {
			return Location{}, errInvalidLocation
		}
		return Location{Scheme: SchemeFile, Object: s}, nil
	}

	scheme, rest := s[:i], s[i+3:]
	switch scheme {
	case SchemeFile:
		if rest == "" {
			return Location{}, fmt.Errorf("%v %q: missing path", errInvalidLocation, s)
		}
		return Location{Scheme: SchemeFile, Object: rest}, nil
	case SchemeGCS, SchemeS3:
		if parts := strings.SplitN(rest, "/", 2); len(parts) == 2 {
			if parts[0] != "" && parts[1] != "" {
				return Location{Scheme: scheme, Bucket: parts[0], Object: parts[1]}, nil
			}
		}
		return Location{}, fmt.Errorf("%v %q: expected %s://bucket/object", errInvalidLocation, s, scheme)
	}
	return Location{}, fmt.Errorf("%v %q: unsupported scheme %q", errInvalidLocation, s, scheme)
}

func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return l.Object
	}
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Object)
}

// WithSuffix returns the location of a sibling object whose name has suffix
// appended, such as an index.
func (l Location) WithSuffix(suffix string) Location {
	l.Object += suffix
	return l
}

// Resolver opens locations using the client registered for their scheme.
// Must be created with NewResolver.
type Resolver struct {
	clients map[string]Client
	allowed map[string]bool
}

// NewResolver returns a Resolver that can open local files.
func NewResolver() *Resolver {
	return &Resolver{
		clients: map[string]Client{SchemeFile: FileClient{}},
		allowed: make(map[string]bool),
	}
}

// Register sets the client used for scheme.
func (r *Resolver) Register(scheme string, client Client) {
	r.clients[scheme] = client
}

// Allow adds buckets to the set of buckets which the resolver is allowed to
// access. If Allow is never called then reads from any bucket are allowed.
func (r *Resolver) Allow(buckets []string) {
	for _, bucket := range buckets {
		if bucket != "" {
			r.allowed[bucket] = true
		}
	}
}

func (r *Resolver) checkAllowed(bucket string) error {
	if bucket == "" || len(r.allowed) == 0 || r.allowed[bucket] {
		return nil
	}
	return fmt.Errorf("%w: access to bucket %s is not allowed", ErrPermission, bucket)
}

// Open returns a handle to the object at location.
func (r *Resolver) Open(location Location) (ObjectHandle, error) {
	if err := r.checkAllowed(location.Bucket); err != nil {
		return nil, err
	}
	client, ok := r.clients[location.Scheme]
	if !ok {
		return nil, fmt.Errorf("no storage client for %s", location)
	}
	return client.NewObjectHandle(location.Bucket, location.Object), nil
}

// ReadAll returns the full contents of the object at location.
func (r *Resolver) ReadAll(ctx context.Context, location Location) ([]byte, error) {
	handle, err := r.Open(location)
	if err != nil {
		return nil, err
	}
	rc, err := handle.NewRangeReader(ctx, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", location, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", location, err)
	}
	return data, nil
}
