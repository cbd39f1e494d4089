package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStats gives the collector access to live session state.
type SessionStats interface {
	SessionCount() int
	ActiveFlowCount() int
	KeyCount() int
}

// UploadBacklog is implemented by archives that queue failed S3 writes.
type UploadBacklog interface {
	Pending() int
}

// gauge is a value read at scrape time.
type gauge struct {
	desc  *prometheus.Desc
	value func() float64
}

// Collector reports live engine state at scrape time. Sources that are not
// configured are left out rather than reported as zero.
type Collector struct {
	gauges []gauge
}

// NewCollector builds a collector over whatever is configured. Any argument
// may be nil.
func NewCollector(pool *pgxpool.Pool, stats SessionStats, backlog UploadBacklog) *Collector {
	c := &Collector{}
	add := func(subsystem, name, help string, value func() float64) {
		c.gauges = append(c.gauges, gauge{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
			value: value,
		})
	}

	if stats != nil {
		add("", "sessions", "Sessions currently tracked.", func() float64 { return float64(stats.SessionCount()) })
		add("", "active_flows", "Transcript requests currently in flight.", func() float64 { return float64(stats.ActiveFlowCount()) })
		add("primary", "keys", "Keys in the primary API pool.", func() float64 { return float64(stats.KeyCount()) })
	}
	if pool != nil {
		add("db_pool", "total_conns", "Open database connections.", func() float64 { return float64(pool.Stat().TotalConns()) })
		add("db_pool", "idle_conns", "Idle database connections.", func() float64 { return float64(pool.Stat().IdleConns()) })
	}
	if backlog != nil {
		add("archive", "pending_uploads", "Archived transcripts not yet mirrored to S3.", func() float64 { return float64(backlog.Pending()) })
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value())
	}
}
