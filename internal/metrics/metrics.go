package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveRuns  prometheus.Gauge
	RunsTotal   *prometheus.CounterVec   // mode, status
	RunDuration *prometheus.HistogramVec // mode

	SimulatedMinutes       prometheus.Counter
	PassengersMaterialized prometheus.Counter
	PassengersCompleted    prometheus.Counter
	PassengersStranded     prometheus.Counter
	AvgWaitMinutes         prometheus.Gauge // last simulation
	DepotFailures          prometheus.Counter

	TripsPlanned   *prometheus.CounterVec // planner: random|greedy|optimizer
	TripsPersisted prometheus.Counter

	SolverRuns     *prometheus.CounterVec // status
	SolverDuration prometheus.Histogram
	SolverNodes    prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	OvercrowdingFactor prometheus.Gauge
	DeadRunSpeed       prometheus.Gauge // km/h
}

func NewCollector(overcrowdingFactor, deadRunSpeedKmph float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsim_active_runs",
			Help: "Number of simulation or optimization runs in progress.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsim_runs_total",
			Help: "Total runs by mode and outcome.",
		}, []string{"mode", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetsim_run_duration_seconds",
			Help:    "Wall-clock duration of a run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		}, []string{"mode"}),
		SimulatedMinutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_simulated_minutes_total",
			Help: "Total simulated minutes stepped.",
		}),
		PassengersMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_passengers_materialized_total",
			Help: "Total passengers created from demand.",
		}),
		PassengersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_passengers_completed_total",
			Help: "Total passengers delivered to their destination.",
		}),
		PassengersStranded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_passengers_stranded_total",
			Help: "Total passengers still waiting, onboard or pending when a run ended.",
		}),
		AvgWaitMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsim_avg_wait_minutes",
			Help: "Average passenger wait of the last simulation.",
		}),
		DepotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_depot_return_failures_total",
			Help: "Total buses that did not end a run at their depot.",
		}),
		TripsPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsim_trips_planned_total",
			Help: "Total trips produced by a planner.",
		}, []string{"planner"}),
		TripsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_trips_persisted_total",
			Help: "Total generated trips written to the store.",
		}),
		SolverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsim_solver_runs_total",
			Help: "Total optimizer solves by solver status.",
		}, []string{"status"}),
		SolverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetsim_solver_duration_seconds",
			Help:    "Duration of a frequency model solve.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		}),
		SolverNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetsim_solver_nodes",
			Help:    "Branch-and-bound nodes explored per solve.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsim_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsim_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetsim_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		OvercrowdingFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsim_overcrowding_factor",
			Help: "Configured overcrowding factor.",
		}),
		DeadRunSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsim_dead_run_speed_kmph",
			Help: "Configured dead-run speed in km/h.",
		}),
	}

	reg.MustRegister(
		c.ActiveRuns, c.RunsTotal, c.RunDuration,
		c.SimulatedMinutes, c.PassengersMaterialized, c.PassengersCompleted, c.PassengersStranded,
		c.AvgWaitMinutes, c.DepotFailures,
		c.TripsPlanned, c.TripsPersisted,
		c.SolverRuns, c.SolverDuration, c.SolverNodes,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.OvercrowdingFactor, c.DeadRunSpeed,
	)

	c.OvercrowdingFactor.Set(overcrowdingFactor)
	c.DeadRunSpeed.Set(deadRunSpeedKmph)

	return c
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(mode, status string, d time.Duration) {
	c.RunsTotal.WithLabelValues(mode, status).Inc()
	c.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveSolve records one optimizer solve.
func (c *Collector) ObserveSolve(status string, nodes int, d time.Duration) {
	c.SolverRuns.WithLabelValues(status).Inc()
	c.SolverNodes.Observe(float64(nodes))
	c.SolverDuration.Observe(d.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("metrics server error")
		}
	}()
	logrus.WithField("addr", addr).Info("metrics listening")
	return srv
}

// PublisherMetrics adapts the collector to the publisher's metrics hooks.
type PublisherMetrics struct{ C *Collector }

func (p PublisherMetrics) NATSPublishedInc()              { p.C.NATSPublished.Inc() }
func (p PublisherMetrics) NATSPublishErrInc()             { p.C.NATSPublishErrs.Inc() }
func (p PublisherMetrics) PublishObserve(d time.Duration) { p.C.PublishDuration.Observe(d.Seconds()) }
func (p PublisherMetrics) NATSSetConnected(b bool) {
	if b {
		p.C.NATSConnected.Set(1)
	} else {
		p.C.NATSConnected.Set(0)
	}
}
