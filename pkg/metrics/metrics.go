// Package metrics records storage engine activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	OpSet      = "set"
	OpGet      = "get"
	OpRemove   = "remove"
	OpIterator = "iterator"
)

// Collector receives engine events. Implementations must be safe for
// concurrent use.
type Collector interface {
	IncOp(store, op string)
	ObserveFlush(store string, bytes int64, d time.Duration)
	ObserveCompaction(store string, inputs int, d time.Duration)
	SetMemtableBytes(store string, n int)
	SetGenerations(store string, n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncOp(string, string)                         {}
func (Nop) ObserveFlush(string, int64, time.Duration)    {}
func (Nop) ObserveCompaction(string, int, time.Duration) {}
func (Nop) SetMemtableBytes(string, int)                 {}
func (Nop) SetGenerations(string, int)                   {}

// Prometheus exports engine events as Prometheus metrics.
type Prometheus struct {
	opsTotal           *prometheus.CounterVec
	flushDuration      *prometheus.HistogramVec
	flushBytes         *prometheus.CounterVec
	compactionDuration *prometheus.HistogramVec
	compactionInputs   *prometheus.HistogramVec
	memtableBytes      *prometheus.GaugeVec
	generations        *prometheus.GaugeVec
}

// NewPrometheus registers the engine metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		opsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lsmkv_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"store", "op"},
		),
		flushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lsmkv_flush_duration_seconds",
				Help:    "Duration of memtable flushes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		flushBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lsmkv_flushed_bytes_total",
				Help: "Total bytes written to data files by flushes",
			},
			[]string{"store"},
		),
		compactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lsmkv_compaction_duration_seconds",
				Help:    "Duration of full compactions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		compactionInputs: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lsmkv_compaction_input_generations",
				Help:    "Number of generations merged by one compaction",
				Buckets: prometheus.LinearBuckets(1, 2, 8),
			},
			[]string{"store"},
		),
		memtableBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lsmkv_memtable_bytes",
				Help: "Encoded size of the current memtable",
			},
			[]string{"store"},
		),
		generations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lsmkv_generations",
				Help: "Number of live on-disk generations",
			},
			[]string{"store"},
		),
	}
}

func (p *Prometheus) IncOp(store, op string) {
	p.opsTotal.WithLabelValues(store, op).Inc()
}

func (p *Prometheus) ObserveFlush(store string, bytes int64, d time.Duration) {
	p.flushDuration.WithLabelValues(store).Observe(d.Seconds())
	p.flushBytes.WithLabelValues(store).Add(float64(bytes))
}

func (p *Prometheus) ObserveCompaction(store string, inputs int, d time.Duration) {
	p.compactionDuration.WithLabelValues(store).Observe(d.Seconds())
	p.compactionInputs.WithLabelValues(store).Observe(float64(inputs))
}

func (p *Prometheus) SetMemtableBytes(store string, n int) {
	p.memtableBytes.WithLabelValues(store).Set(float64(n))
}

func (p *Prometheus) SetGenerations(store string, n int) {
	p.generations.WithLabelValues(store).Set(float64(n))
}
