// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type proxyMetrics struct {
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	retries       *prometheus.CounterVec
	tunnelsActive prometheus.Gauge
	tunnelBytes   *prometheus.CounterVec
	tunnelIdle    prometheus.Counter
}

func newProxyMetrics(r prometheus.Registerer, namespace string) *proxyMetrics {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	return &proxyMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "proxy_requests_total",
			Namespace: namespace,
			Help:      "Number of requests by route",
		}, []string{"route"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "proxy_errors_total",
			Namespace: namespace,
			Help:      "Number of proxy errors",
		}, []string{"reason"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "proxy_retries_total",
			Namespace: namespace,
			Help:      "Number of upstream retries by route",
		}, []string{"route"}),
		tunnelsActive: f.NewGauge(prometheus.GaugeOpts{
			Name:      "proxy_tunnels_active",
			Namespace: namespace,
			Help:      "Number of active CONNECT tunnels",
		}),
		tunnelBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "proxy_tunnel_bytes_total",
			Namespace: namespace,
			Help:      "Number of bytes relayed through CONNECT tunnels",
		}, []string{"direction"}),
		tunnelIdle: f.NewCounter(prometheus.CounterOpts{
			Name:      "proxy_tunnel_idle_closed_total",
			Namespace: namespace,
			Help:      "Number of CONNECT tunnels closed after the idle timeout",
		}),
	}
}

func (m *proxyMetrics) request(route string) {
	m.requests.WithLabelValues(route).Inc()
}

func (m *proxyMetrics) error(reason string) {
	m.errors.WithLabelValues(reason).Inc()
}

func (m *proxyMetrics) retry(route string) {
	m.retries.WithLabelValues(route).Inc()
}

func (m *proxyMetrics) tunnelOpened() {
	m.tunnelsActive.Inc()
}

func (m *proxyMetrics) tunnelClosed(up, down int64) {
	m.tunnelsActive.Dec()
	m.tunnelBytes.WithLabelValues("upstream").Add(float64(up))
	m.tunnelBytes.WithLabelValues("downstream").Add(float64(down))
}
