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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds the parameters used to construct an S3Client.  Credentials
// come from the default AWS credential chain.
type S3Config struct {
	Region string
	// Endpoint is an optional custom endpoint such as a MinIO server.
	Endpoint  string
	PathStyle bool
}

// S3Client is a Client for S3 compatible object stores.
type S3Client struct {
	client *s3.Client
}

// NewS3Client returns a client configured from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %v", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Client{client}, nil
}

// NewObjectHandle returns a handle to a specified object in the
// storage engine.
func (c *S3Client) NewObjectHandle(bucket, object string) ObjectHandle {
	return s3ObjectHandle{c.client, bucket, object}
}

type s3ObjectHandle struct {
	client         *s3.Client
	bucket, object string
}

func (h s3ObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.object),
	}
	if offset > 0 || length >= 0 {
		input.Range = aws.String(byteRange(offset, length))
	}
	out, err := h.client.GetObject(ctx, input)
	if err != nil {
		return nil, newS3Error(fmt.Sprintf("s3://%s/%s", h.bucket, h.object), err)
	}
	return out.Body, nil
}

// byteRange returns the HTTP range header value selecting length bytes at
// offset, or everything from offset when length is negative.
func byteRange(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

func newS3Error(object string, err error) error {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %s", ErrNotExist, object)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s: %v", ErrPermission, object, err)
		case "NotFound":
			return fmt.Errorf("%w: %s", ErrNotExist, object)
		}
	}
	return fmt.Errorf("reading %s: %v", object, err)
}
