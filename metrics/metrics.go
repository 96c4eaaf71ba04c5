// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics is the thin facade domain packages register counters and
// gauges through, backed by github.com/prometheus/client_golang's default
// registry so node/httpapi's GET /metrics exposes everything without each
// package importing promhttp itself.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing value, e.g. blocks sealed.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a value that can go up or down, e.g. current pool size.
type Gauge interface {
	Set(value float64)
}

type counter struct{ c prometheus.Counter }

func (c counter) Inc()              { c.c.Inc() }
func (c counter) Add(delta float64) { c.c.Add(delta) }

type gauge struct{ g prometheus.Gauge }

func (g gauge) Set(value float64) { g.g.Set(value) }

// sanitizeName maps slash-separated metric names ("blockchain/pool_size")
// onto Prometheus's [a-zA-Z_:] naming rules.
func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
}

// NewRegisteredCounter registers and returns a new Counter under name on
// the default registry.
func NewRegisteredCounter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeName(name), Help: help})
	prometheus.MustRegister(c)
	return counter{c}
}

// NewRegisteredGauge registers and returns a new Gauge under name.
func NewRegisteredGauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(name), Help: help})
	prometheus.MustRegister(g)
	return gauge{g}
}
