// Package metrics exposes the autoscaler's internal state as
// Prometheus gauges, served the same way the teacher's
// internal/http.Server wires promhttp.Handler onto a dedicated
// ServeMux rather than the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcsp/pgautoscale/internal/accountant"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/progress"
	"github.com/jcsp/pgautoscale/internal/scheduler"
)

// Collector implements prometheus.Collector over a live view of the
// core's resource accounting, active adjustment and tracked events.
type Collector struct {
	resources func() map[string]*accountant.ResourceStatus
	active    func() bool
	events    func() []progress.Event

	pgCurrent     *prometheus.Desc
	pgTarget      *prometheus.Desc
	osdCount      *prometheus.Desc
	adjustmentUp  *prometheus.Desc
	eventProgress *prometheus.Desc
}

// NewCollector builds a Collector that reads resources/active/events
// on every scrape, never caching between scrapes.
func NewCollector(resources func() map[string]*accountant.ResourceStatus, sched *scheduler.Scheduler, tracker *progress.Tracker) *Collector {
	return &Collector{
		resources: resources,
		active:    func() bool { return sched.Active() != nil },
		events:    tracker.List,

		pgCurrent: prometheus.NewDesc(
			"pgautoscale_subtree_pg_current", "Placement groups currently mapped under a crush subtree.",
			[]string{"root"}, nil),
		pgTarget: prometheus.NewDesc(
			"pgautoscale_subtree_pg_target", "Placement group budget for a crush subtree.",
			[]string{"root"}, nil),
		osdCount: prometheus.NewDesc(
			"pgautoscale_subtree_osd_count", "OSDs under a crush subtree.",
			[]string{"root"}, nil),
		adjustmentUp: prometheus.NewDesc(
			"pgautoscale_adjustment_in_progress", "1 if a pg_num/pgp_num adjustment is currently in flight.",
			nil, nil),
		eventProgress: prometheus.NewDesc(
			"pgautoscale_event_progress", "Fractional progress of a tracked event.",
			[]string{"id", "message"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pgCurrent
	ch <- c.pgTarget
	ch <- c.osdCount
	ch <- c.adjustmentUp
	ch <- c.eventProgress
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for root, status := range c.resources() {
		if root == "" {
			root = "global"
		}
		ch <- prometheus.MustNewConstMetric(c.pgCurrent, prometheus.GaugeValue, float64(status.PGCurrent), root)
		ch <- prometheus.MustNewConstMetric(c.pgTarget, prometheus.GaugeValue, float64(status.PGTarget), root)
		ch <- prometheus.MustNewConstMetric(c.osdCount, prometheus.GaugeValue, float64(status.OSDCount), root)
	}

	var up float64
	if c.active() {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.adjustmentUp, prometheus.GaugeValue, up)

	for _, ev := range c.events() {
		ch <- prometheus.MustNewConstMetric(c.eventProgress, prometheus.GaugeValue, ev.Progress(), ev.ID(), ev.Message())
	}
}

// Server serves the /metrics endpoint.
type Server struct {
	server *http.Server
}

// NewServer registers collector against a dedicated registry and
// returns a Server bound to addr.
func NewServer(addr string, collector *Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`<html><head><title>pgautoscaled</title></head>
<body><p><a href="/metrics">Metrics</a></p></body></html>`))
		if err != nil {
			log.Warnln("response write failed: ", err)
		}
	})

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			IdleTimeout:  10 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Serve starts listening and serving requests, blocking until the
// listener fails or is shut down.
func (s *Server) Serve() error {
	log.Infof("accepting requests on http://%s/metrics", s.server.Addr)
	return s.server.ListenAndServe()
}
