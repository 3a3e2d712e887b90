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

// Package analytics sends anonymous overview usage data to Google Analytics.
package analytics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultEndpoint  = "https://www.google-analytics.com/"
	defaultBatchSize = 20 // The maximum number supported by batch endpoint.

	sendTimeout      = 30 * time.Second
	overviewCategory = "Overview"
)

// Hit is a single analytics record.  Hits are created by the constructors
// below, one per overview milestone.
type Hit struct {
	// Action names what happened, for example "Request Received".
	Action string
	// Label qualifies the action, typically with a chromosome or track key.
	Label string
	// Value is an optional count attached to an event.
	Value *int64
	// Elapsed is set for timing hits only.
	Elapsed time.Duration
	timing  bool
}

// RequestReceived records the arrival of an overview request.
func RequestReceived() Hit {
	return Hit{Action: "Request Received"}
}

// ResponseSent records a successful overview response for chrom holding
// points plotted points.
func ResponseSent(chrom string, points int) Hit {
	n := int64(points)
	return Hit{Action: "Response Sent", Label: chrom, Value: &n}
}

// RequestFailed records an overview request rejected with the named error
// category, such as "InvalidInput" or "DataUnavailable".
func RequestFailed(outcome string) Hit {
	return Hit{Action: outcome + " Error"}
}

// QueryTiming records how long the named track query took for key.
func QueryTiming(track, key string, elapsed time.Duration) Hit {
	return Hit{Action: track + " query", Label: key, Elapsed: elapsed, timing: true}
}

// values encodes h with the measurement protocol parameter names.
func (h Hit) values() url.Values {
	v := url.Values{}
	if h.timing {
		v.Set("t", "timing")
		v.Set("utc", overviewCategory)
		v.Set("utv", h.Action)
		v.Set("utt", strconv.FormatInt(int64(h.Elapsed/time.Millisecond), 10))
		if h.Label != "" {
			v.Set("utl", h.Label)
		}
		return v
	}
	v.Set("t", "event")
	v.Set("ec", overviewCategory)
	v.Set("ea", h.Action)
	if h.Label != "" {
		v.Set("el", h.Label)
	}
	if h.Value != nil {
		v.Set("ev", strconv.FormatInt(*h.Value, 10))
	}
	return v
}

// Client defines a type for communicating with Google Analytics.  To create a
// properly initialized Client instance, use NewClient.
type Client struct {
	propertyID string
	clientID   string
	endpoint   string
	batchSize  int
	httpClient *http.Client
}

// NewClient returns a Client sends hits to analytics using the provided IDs.
func NewClient(propertyID, clientID string) *Client {
	return &Client{propertyID, clientID, defaultEndpoint, defaultBatchSize, http.DefaultClient}
}

// Send attempts to upload the provided hits to the analytics server.
func (client *Client) Send(ctx context.Context, hits []Hit) error {
	if len(hits) > 0 {
		if err := client.upload(ctx, hits); err != nil {
			return fmt.Errorf("uploading hits: %v", err)
		}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, hits []Hit) error {
	for i := 0; i < len(hits); i += c.batchSize {
		start, end := i, i+c.batchSize
		if end > len(hits) {
			end = len(hits)
		}

		var body bytes.Buffer
		for _, hit := range hits[start:end] {
			payload := hit.values()
			payload.Set("v", "1")
			payload.Set("tid", c.propertyID)
			payload.Set("cid", c.clientID)
			body.WriteString(payload.Encode())
			body.WriteByte('\n')
		}

		request, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/batch", &body)
		if err != nil {
			return fmt.Errorf("creating request: %v", err)
		}
		response, err := c.httpClient.Do(request)
		if err != nil {
			return fmt.Errorf("sending request: %v", err)
		}
		io.Copy(ioutil.Discard, response.Body)
		response.Body.Close()
		if response.StatusCode != 200 {
			return fmt.Errorf("unexpected response status: %v", response.Status)
		}
	}
	return nil
}

type contextKey int

var (
	hitsKey = contextKey(1)
)

// TrackingHandler returns a new http.Handler which wraps the provided
// handler.  The wrapper prepares the incoming request's context for use with
// the TrackerFromContext function.  When the underlying handler completes,
// the track function is invoked with any hits accumulated during the request.
func TrackingHandler(handler http.Handler, track func([]Hit)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var hits []Hit
		ctx := context.WithValue(req.Context(), hitsKey, &hits)
		handler.ServeHTTP(w, req.WithContext(ctx))
		track(hits)
	})
}

// TrackerFromContext is intended to be used with contexts that are generated
// by handlers returned from the TrackingHandler function.  It returns a
// function that buffers hits to be delivered to the track function provided
// in the original call to the TrackingHandler function.
func TrackerFromContext(ctx context.Context) func(Hit) {
	if hits, ok := ctx.Value(hitsKey).(*[]Hit); ok {
		return func(hit Hit) { *hits = append(*hits, hit) }
	}
	return func(Hit) {}
}

// Sender returns a track function for TrackingHandler that uploads hits in
// the background, reporting failures to logf.  Each upload is abandoned after
// sendTimeout.
func (c *Client) Sender(logf func(format string, args ...interface{})) func([]Hit) {
	return func(hits []Hit) {
		if len(hits) == 0 {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := c.Send(ctx, hits); err != nil {
				logf("Failed to send %d hits to analytics: %v", len(hits), err)
			}
		}()
	}
}
