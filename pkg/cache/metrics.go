// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cache's prometheus instruments. Unlike the cluster's
// controller-runtime components, which register against a single global
// registry at init() time, a Cache is constructed per shard, so its
// metrics are built per instance and registered explicitly by the caller
// via RegisterWith — avoiding duplicate-registration panics when more
// than one shard runs in the same process.
type Metrics struct {
	bytes     prometheus.Gauge
	entries   prometheus.Gauge
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewMetrics constructs a fresh, unregistered set of instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kafscale_cache_bytes",
			Help: "Accounted bytes across Ready and Downloading cache entries.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kafscale_cache_entries",
			Help: "Number of cache entries, in any state.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafscale_cache_hits_total",
			Help: "Reservations satisfied by an already-Ready entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafscale_cache_misses_total",
			Help: "Reservations that admitted a new download.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafscale_cache_evictions_total",
			Help: "Entries evicted under capacity pressure.",
		}),
	}
}

// RegisterWith registers every instrument against reg.
func (m *Metrics) RegisterWith(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.bytes, m.entries, m.hits, m.misses, m.evictions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeHit()         { m.hits.Inc() }
func (m *Metrics) observeMiss()        { m.misses.Inc() }
func (m *Metrics) observeEviction()    { m.evictions.Inc() }
func (m *Metrics) setBytes(n int64)    { m.bytes.Set(float64(n)) }
func (m *Metrics) setEntryCount(n int) { m.entries.Set(float64(n)) }
