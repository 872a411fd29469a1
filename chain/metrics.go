/*
 * metrics.go, part of metromc.
 *
 *
 * Copyright 2025 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 *
 */

package chain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus metrics of one or more chains, labeled by chain name.
// A nil *Metrics records nothing.
type Metrics struct {
	steps       *prometheus.CounterVec
	energy      *prometheus.GaugeVec
	lowest      *prometheus.GaugeVec
	probability *prometheus.HistogramVec
	oracle      *prometheus.HistogramVec
	retries     *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metromc",
			Subsystem: "chain",
			Name:      "steps_total",
			Help:      "Monte Carlo steps by outcome (accepted, rejected, skipped).",
		}, []string{"chain", "outcome"}),
		energy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "metromc",
			Subsystem: "chain",
			Name:      "current_energy_ev",
			Help:      "Energy of the current structure, in eV.",
		}, []string{"chain"}),
		lowest: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "metromc",
			Subsystem: "chain",
			Name:      "lowest_energy_ev",
			Help:      "Lowest energy seen, in eV.",
		}, []string{"chain"}),
		probability: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metromc",
			Subsystem: "chain",
			Name:      "acceptance_probability",
			Help:      "Metropolis acceptance probability of each step.",
			Buckets:   []float64{1e-6, 1e-4, 0.01, 0.1, 0.25, 0.5, 0.75, 0.99, 1},
		}, []string{"chain"}),
		oracle: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metromc",
			Subsystem: "oracle",
			Name:      "evaluation_seconds",
			Help:      "Time taken by energy evaluations, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 12),
		}, []string{"chain", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metromc",
			Subsystem: "oracle",
			Name:      "retries_total",
			Help:      "Energy evaluations retried after a transient failure.",
		}, []string{"chain"}),
	}
}

func (m *Metrics) step(chain, outcome string, p float64) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(chain, outcome).Inc()
	m.probability.WithLabelValues(chain).Observe(p)
}

func (m *Metrics) energies(chain string, current, lowest float64) {
	if m == nil {
		return
	}
	m.energy.WithLabelValues(chain).Set(current)
	m.lowest.WithLabelValues(chain).Set(lowest)
}

func (m *Metrics) evaluation(chain, outcome string, d time.Duration, retries int) {
	if m == nil {
		return
	}
	m.oracle.WithLabelValues(chain, outcome).Observe(d.Seconds())
	if retries > 0 {
		m.retries.WithLabelValues(chain).Add(float64(retries))
	}
}
