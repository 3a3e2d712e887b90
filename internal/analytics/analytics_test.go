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

package analytics

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestClient_Send_Batches(t *testing.T) {
	var requests int
	client, quit := fakeBackend(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	})
	defer close(quit)

	var hits []Hit
	for i := 0; i < client.batchSize*4; i++ {
		hits = append(hits, RequestReceived())
	}
	if err := client.Send(context.Background(), hits); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got, want := requests, len(hits)/client.batchSize; got != want {
		t.Errorf("Wrong number of requests: got %d, want %d", got, want)
	}
}

func TestClient_Send_VerifyPayloads(t *testing.T) {
	var payloads []string

	client, quit := fakeBackend(func(w http.ResponseWriter, req *http.Request) {
		scanner := bufio.NewScanner(req.Body)
		for scanner.Scan() {
			payloads = append(payloads, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			t.Fatalf("Failed to read request body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	})
	defer close(quit)

	hits := []Hit{
		RequestReceived(),
		QueryTiming("LRR", "cov", 1500*time.Millisecond),
		ResponseSent("X", 10),
	}
	if err := client.Send(context.Background(), hits); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []url.Values{
		{"t": {"event"}, "ec": {"Overview"}, "ea": {"Request Received"}},
		{"t": {"timing"}, "utc": {"Overview"}, "utv": {"LRR query"}, "utl": {"cov"}, "utt": {"1500"}},
		{"t": {"event"}, "ec": {"Overview"}, "ea": {"Response Sent"}, "el": {"X"}, "ev": {"10"}},
	}
	if len(payloads) != len(want) {
		t.Fatalf("Wrong number of payloads: got %d, want %d", len(payloads), len(want))
	}
	for i, payload := range payloads {
		got, err := url.ParseQuery(payload)
		if err != nil {
			t.Fatalf("Failed to parse payload: %q: %v", payload, err)
		}
		want[i].Set("v", "1")
		want[i].Set("cid", client.clientID)
		want[i].Set("tid", client.propertyID)
		if !reflect.DeepEqual(got, want[i]) {
			t.Errorf("Wrong payload for hit %d: got %v, want %v", i, got, want[i])
		}
	}
}

func TestClient_Send_Status(t *testing.T) {
	client, quit := fakeBackend(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer close(quit)

	if err := client.Send(context.Background(), []Hit{RequestReceived()}); err == nil {
		t.Fatal("Send accepted a failed upload")
	}
	if err := client.Send(context.Background(), nil); err != nil {
		t.Fatalf("Send with no hits returned unexpected error: %v", err)
	}
}

func TestHit_Values(t *testing.T) {
	testCases := []struct {
		name string
		hit  Hit
		want url.Values
	}{
		{
			"request received",
			RequestReceived(),
			url.Values{"t": {"event"}, "ec": {"Overview"}, "ea": {"Request Received"}},
		},
		{
			"failure",
			RequestFailed("DataUnavailable"),
			url.Values{"t": {"event"}, "ec": {"Overview"}, "ea": {"DataUnavailable Error"}},
		},
		{
			"no points",
			ResponseSent("1", 0),
			url.Values{"t": {"event"}, "ec": {"Overview"}, "ea": {"Response Sent"}, "el": {"1"}, "ev": {"0"}},
		},
		{
			"unlabelled timing",
			QueryTiming("BAF", "", 0),
			url.Values{"t": {"timing"}, "utc": {"Overview"}, "utv": {"BAF query"}, "utt": {"0"}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.hit.values(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Wrong values: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTrackingHandler(t *testing.T) {
	want := []Hit{
		RequestReceived(),
		RequestFailed("InvalidInput"),
	}

	handler := http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		track := TrackerFromContext(req.Context())
		for i := range want {
			track(want[i])
		}
	})

	var invoked bool
	tracker := func(got []Hit) {
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Wrong hits: got %v, want %v", got, want)
		}
		invoked = true
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/overview", nil)
	TrackingHandler(handler, tracker).ServeHTTP(w, req)

	if !invoked {
		t.Error("tracker function was not invoked")
	}
}

func TestTrackerFromContext_WithEmptyContextIsNotNil(t *testing.T) {
	ctx := context.Background()
	if track := TrackerFromContext(ctx); track == nil {
		t.Error("TrackerFromContext returned nil")
	}
}

func TestClient_Sender(t *testing.T) {
	received := make(chan int, 1)
	client, quit := fakeBackend(func(w http.ResponseWriter, req *http.Request) {
		var lines int
		scanner := bufio.NewScanner(req.Body)
		for scanner.Scan() {
			lines++
		}
		received <- lines
		w.WriteHeader(http.StatusOK)
	})
	defer close(quit)

	send := client.Sender(t.Logf)
	send(nil)
	send([]Hit{RequestReceived(), ResponseSent("2", 4)})

	select {
	case got := <-received:
		if got != 2 {
			t.Fatalf("Wrong number of hits: got %d, want 2", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("hits were not sent")
	}
}

func fakeBackend(handler http.HandlerFunc) (*Client, chan<- struct{}) {
	server := httptest.NewServer(handler)
	quit := make(chan struct{})
	go func() {
		<-quit
		server.Close()
	}()

	client := NewClient("UA-TEST123", "0001-0002-0003-0004")
	client.endpoint = server.URL

	return client, quit
}
