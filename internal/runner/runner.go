package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetsim/internal/config"
	mmetrics "fleetsim/internal/metrics"
	"fleetsim/internal/publisher"
	"fleetsim/internal/sim"
	"fleetsim/internal/transit"
)

// NetworkRepository is the read side of the transit store.
type NetworkRepository interface {
	LoadSnapshot(ctx context.Context) (*transit.Snapshot, error)
}

// ScheduleWriter persists generated trips in one transaction and returns
// how many trips were written.
type ScheduleWriter interface {
	SaveGeneratedTrips(ctx context.Context, g transit.GeneratedSchedule) (int, error)
}

type EventPublisher interface {
	PublishBusEvent(runID, busID string, ev sim.BusEvent) error
	PublishSummary(msg publisher.SummaryMessage) error
}

type Options struct {
	Params            config.RunParams
	Seed              int64
	PersistSchedule   bool // persist planner schedules in simulate mode
	SimulateOptimized bool // drive the simulator with the optimizer's schedule
	CSVExportDir      string
}

// Runner executes simulate and optimize passes. Every pass loads its own
// copy of the network, so passes may run concurrently. Writer, publisher
// and metrics are optional.
type Runner struct {
	repo    NetworkRepository
	writer  ScheduleWriter
	pub     EventPublisher
	metrics *mmetrics.Collector
	opts    Options

	mu      sync.Mutex
	running map[string]context.CancelFunc // runID -> cancel
	wg      sync.WaitGroup
}

func New(repo NetworkRepository, writer ScheduleWriter, pub EventPublisher, m *mmetrics.Collector, opts Options) *Runner {
	return &Runner{
		repo:    repo,
		writer:  writer,
		pub:     pub,
		metrics: m,
		opts:    opts,
		running: make(map[string]context.CancelFunc),
	}
}

// Run dispatches on mode.
func (r *Runner) Run(ctx context.Context, mode string) *Result {
	if mode == config.ModeOptimize {
		return r.Optimize(ctx)
	}
	return r.Simulate(ctx)
}

// Cancel aborts an in-flight run. It reports whether the run was found.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[runID]
	if ok {
		cancel()
	}
	return ok
}

// Active lists the ids of runs in progress.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every run in progress and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) begin(parent context.Context) (string, context.Context, func()) {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.running[runID] = cancel
	r.wg.Add(1)
	if r.metrics != nil {
		r.metrics.ActiveRuns.Set(float64(len(r.running)))
	}
	r.mu.Unlock()

	return runID, ctx, func() {
		cancel()
		r.mu.Lock()
		delete(r.running, runID)
		if r.metrics != nil {
			r.metrics.ActiveRuns.Set(float64(len(r.running)))
		}
		r.mu.Unlock()
		r.wg.Done()
	}
}

// finish runs deferred at the end of every pass. A panic becomes a failed
// result; metrics and the summary message are emitted either way.
func (r *Runner) finish(res *Result, started time.Time, log *logrus.Entry, recovered any) {
	if recovered != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("run panicked: %v", recovered)
		res.fail(fmt.Errorf("panic: %v", recovered))
	}
	elapsed := time.Since(started)
	if r.metrics != nil {
		r.metrics.ObserveRun(res.Mode, string(res.Status), elapsed)
	}
	r.publishSummary(res, log)

	entry := log.WithFields(logrus.Fields{"status": res.Status, "elapsed": elapsed})
	if res.Status == StatusFailed {
		entry.WithField("message", res.Message).Warn("run failed")
		return
	}
	entry.Info("run finished")
}

func (r *Runner) loadNetwork(ctx context.Context) (*transit.Network, error) {
	snap, err := r.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	net, err := transit.Build(snap)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	return net, nil
}

func (r *Runner) publishSummary(res *Result, log *logrus.Entry) {
	if r.pub == nil {
		return
	}
	msg := publisher.SummaryMessage{
		RunID:     res.RunID,
		Mode:      res.Mode,
		Status:    string(res.Status),
		Message:   res.Message,
		Timestamp: time.Now(),
	}
	if s := res.Simulation; s != nil {
		msg.PassengersTotal = s.Total
		msg.PassengersServed = float64(s.Metrics.Completed)
		msg.AvgWaitMinutes = s.Metrics.AvgWait
		msg.StillWaiting = s.StillWaiting
	}
	if res.DepotReport != nil {
		msg.DepotStatus = res.DepotReport.Status
	}
	if o := res.Optimization; o != nil {
		msg.SolverStatus = o.SolverStatus
		if res.Simulation == nil {
			msg.PassengersServed = o.TotalPassengersServed
		}
	}
	if err := r.pub.PublishSummary(msg); err != nil {
		log.WithError(err).Warn("publish summary failed")
	}
}
