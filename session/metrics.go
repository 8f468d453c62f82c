// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	active  prometheus.Gauge
	created prometheus.Counter
	evicted *prometheus.CounterVec
	deleted *prometheus.CounterVec
}

func newMetrics(r prometheus.Registerer, namespace string) *metrics {
	if r == nil {
		r = prometheus.NewRegistry() // discard metrics
	}

	f := promauto.With(r)

	return &metrics{
		active: f.NewGauge(prometheus.GaugeOpts{
			Name:      "sessions_active",
			Namespace: namespace,
			Help:      "Number of live upstream sessions",
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Name:      "sessions_created_total",
			Namespace: namespace,
			Help:      "Number of upstream sessions created",
		}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "sessions_evicted_total",
			Namespace: namespace,
			Help:      "Number of upstream sessions evicted by reason",
		}, []string{"reason"}),
		deleted: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "sessions_deleted_total",
			Namespace: namespace,
			Help:      "Number of upstream session deletions by result",
		}, []string{"result"}),
	}
}
