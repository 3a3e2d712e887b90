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

// Package metrics exposes Prometheus collectors for overview requests and
// track queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server, registered on a private
// registry.  Must be created with New.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec
	records      *prometheus.CounterVec
}

// New returns a Metrics whose collectors are registered along with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coviz",
			Name:      "overview_requests_total",
			Help:      "Overview requests by outcome.",
		}, []string{"outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coviz",
			Name:      "track_query_seconds",
			Help:      "Time taken to read the records of a track query.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"track"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coviz",
			Name:      "track_records_total",
			Help:      "Records read from each track.",
		}, []string{"track"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.queryLatency,
		m.records,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registered collectors in the Prometheus exposition
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts an overview request that ended with outcome.
func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveQuery records a query of track that returned count records.
func (m *Metrics) ObserveQuery(track string, elapsed time.Duration, count int) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(track).Observe(elapsed.Seconds())
	m.records.WithLabelValues(track).Add(float64(count))
}
