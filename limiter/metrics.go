// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package limiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	capacity prometheus.Gauge
	inUse    prometheus.Gauge
	rejected prometheus.Counter
	wait     prometheus.Histogram
}

func newMetrics(r prometheus.Registerer, namespace string) *metrics {
	if r == nil {
		r = prometheus.NewRegistry() // discard metrics
	}

	f := promauto.With(r)

	return &metrics{
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Name:      "limiter_capacity",
			Namespace: namespace,
			Help:      "Maximal number of concurrent requests and tunnels, 0 if unlimited",
		}),
		inUse: f.NewGauge(prometheus.GaugeOpts{
			Name:      "limiter_tokens_in_use",
			Namespace: namespace,
			Help:      "Number of concurrency tokens currently held",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name:      "limiter_rejected_total",
			Namespace: namespace,
			Help:      "Number of requests rejected because no token became available in time",
		}),
		wait: f.NewHistogram(prometheus.HistogramOpts{
			Name:      "limiter_wait_seconds",
			Namespace: namespace,
			Help:      "Time spent waiting for a concurrency token",
			Buckets:   []float64{0, .001, .01, .1, .5, 1, 5, 10, 30},
		}),
	}
}
