// internal/metrics/collector.go
package metrics

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
)

const namespace = "curve_bundler"

// Fee kinds.
const (
	FeeDeploy = "deploy"
	FeeBuy    = "buy"
	FeeSell   = "sell"
)

// Collector records settlement metrics into a prometheus registry.
type Collector struct {
	settlements *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	fees        *prometheus.CounterVec
	volume      *prometheus.CounterVec
	journal     *prometheus.CounterVec
}

// NewCollector creates the settlement metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Settlement operations by outcome",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settlement_duration_seconds",
				Help:      "Time spent inside a settlement operation",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"operation"},
		),
		fees: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_collected",
				Help:      "Native amount routed to the fee vault",
			},
			[]string{"kind"},
		),
		volume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "native_volume",
				Help:      "Native amount traded against curves",
			},
			[]string{"side"},
		),
		journal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_writes_total",
				Help:      "Trade records written by the journal",
			},
			[]string{"status"},
		),
	}

	for _, m := range []prometheus.Collector{c.settlements, c.duration, c.fees, c.volume, c.journal} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// RecordSettlement counts one operation and its duration.
func (c *Collector) RecordSettlement(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "reverted"
	}
	c.settlements.WithLabelValues(operation, status).Inc()
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFee adds a fee routed to the vault.
func (c *Collector) RecordFee(kind string, amount *uint256.Int) {
	c.fees.WithLabelValues(kind).Add(units.ToFloat(amount, units.DefaultDecimals))
}

// RecordVolume adds the native leg of a trade.
func (c *Collector) RecordVolume(side string, amount *uint256.Int) {
	c.volume.WithLabelValues(side).Add(units.ToFloat(amount, units.DefaultDecimals))
}

// RecordJournalWrite counts a persisted (or abandoned) trade record.
func (c *Collector) RecordJournalWrite(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.journal.WithLabelValues(status).Inc()
}

// Reset clears all series, useful between test cases.
func (c *Collector) Reset() {
	c.settlements.Reset()
	c.duration.Reset()
	c.fees.Reset()
	c.volume.Reset()
	c.journal.Reset()
}
