// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package middleware

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var objectives = map[float64]float64{ //nolint:gochecknoglobals // read-only
	0.5:  0.01,  // Median (50th percentile) with ±1% error
	0.9:  0.01,  // 90th percentile with ±1% error
	0.99: 0.001, // 99th percentile with ±0.1% error
}

// Prometheus collects metrics about proxied requests.
// Requests are partitioned by HTTP method, finished requests also by status code.
// A request that ends without a response, for instance when the client goes away,
// leaves the in-flight gauge but is not counted.
type Prometheus struct {
	requestsInFlight *prometheus.GaugeVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.SummaryVec
	upstreamAttempts *prometheus.SummaryVec
}

func NewPrometheus(r prometheus.Registerer, namespace string) *Prometheus {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	labels := []string{"method"}
	labelsWithStatus := []string{"code", "method"}

	return &Prometheus{
		requestsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being served.",
		}, labels),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, labelsWithStatus),
		requestDuration: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "http_request_duration_seconds",
			Help:       "The HTTP request latencies in seconds, for CONNECT until the tunnel is established.",
			Objectives: objectives,
		}, labelsWithStatus),
		upstreamAttempts: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "http_upstream_attempts",
			Help:      "Number of upstream attempts per HTTP request.",
		}, labels),
	}
}

func (p *Prometheus) ReadRequest(req *http.Request) {
	p.requestsInFlight.WithLabelValues(req.Method).Inc()
}

// Done records the end of the request.
// The status is zero if no response was written.
func (p *Prometheus) Done(e LogEntry) {
	method := e.Request.Method
	p.requestsInFlight.WithLabelValues(method).Dec()

	if e.Status == 0 {
		return
	}

	code := strconv.Itoa(e.Status)
	p.requestsTotal.WithLabelValues(code, method).Inc()
	p.requestDuration.WithLabelValues(code, method).Observe(e.Duration.Seconds())
	if e.Attempts > 0 {
		p.upstreamAttempts.WithLabelValues(method).Observe(float64(e.Attempts))
	}
}

