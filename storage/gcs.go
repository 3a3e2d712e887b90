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
	"net/http"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSClient is Client for accessing Google Cloud Storage.
type GCSClient struct {
	*gcs.Client
}

// NewObjectHandle returns a handle to a specified object in the
// storage engine.
func (c GCSClient) NewObjectHandle(bucket, object string) ObjectHandle {
	return gcsObjectHandle{c.Bucket(bucket).Object(object)}
}

type gcsObjectHandle struct {
	*gcs.ObjectHandle
}

func (h gcsObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	r, err := h.ObjectHandle.NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, newGCSError(fmt.Sprintf("gs://%s/%s", h.BucketName(), h.ObjectName()), err)
	}
	return r, nil
}

// NewGCSClient returns a storage client that uses the application default
// credentials.
func NewGCSClient(ctx context.Context) (GCSClient, error) {
	return newGCSClientWithOptions(ctx)
}

// NewPublicGCSClient returns a storage client that does not use any form of
// client authorization.  It can only be used to read publicly-readable
// objects.
func NewPublicGCSClient(ctx context.Context) (GCSClient, error) {
	return newGCSClientWithOptions(ctx, option.WithHTTPClient(http.DefaultClient))
}

// NewGCSClientFromToken constructs a storage client that uses the OAuth2
// bearer token to make storage requests.
func NewGCSClientFromToken(ctx context.Context, accessToken string) (GCSClient, error) {
	token := oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: accessToken,
	}
	return newGCSClientWithOptions(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
}

func newGCSClientWithOptions(ctx context.Context, opts ...option.ClientOption) (GCSClient, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return GCSClient{}, fmt.Errorf("creating storage client: %v", err)
	}
	return GCSClient{client}, nil
}

func newGCSError(object string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, object)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s: %v", ErrPermission, object, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotExist, object)
		}
	}
	return fmt.Errorf("reading %s: %v", object, err)
}
