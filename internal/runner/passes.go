package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/config"
	"fleetsim/internal/demand"
	"fleetsim/internal/optimizer"
	"fleetsim/internal/planner"
	"fleetsim/internal/sim"
	"fleetsim/internal/transit"
)

const (
	plannerRandom    = "random"
	plannerGreedy    = "greedy"
	plannerOptimizer = "optimizer"
)

// Simulate materializes demand, plans a schedule and steps the fleet over
// it. With SimulateOptimized the schedule comes from the optimizer instead
// of a heuristic planner.
func (r *Runner) Simulate(ctx context.Context) (res *Result) {
	runID, ctx, done := r.begin(ctx)
	defer done()
	res = &Result{RunID: runID, Mode: config.ModeSimulate, Status: StatusSuccess}
	log := logrus.WithFields(logrus.Fields{"run": runID, "mode": res.Mode})
	started := time.Now()
	defer func() { r.finish(res, started, log, recover()) }()

	p := r.opts.Params
	net, err := r.loadNetwork(ctx)
	if err != nil {
		res.fail(err)
		return res
	}
	log.WithField("network", net.String()).Info("network loaded")

	passengers := demand.NewMaterializer().Passengers(net.Demand)
	start, end := demand.Window(passengers, p.StartMinute, p.EndMinute)
	if r.metrics != nil {
		r.metrics.PassengersMaterialized.Add(float64(len(passengers)))
	}
	log.WithFields(logrus.Fields{"passengers": len(passengers), "start": start, "end": end}).Info("demand materialized")

	var (
		sched planner.Schedule
		name  string
	)
	if r.opts.SimulateOptimized {
		name = plannerOptimizer
		gen, err := r.solve(ctx, net, p, runID, res, log)
		if err != nil {
			res.fail(err)
			return res
		}
		sched = optimizer.PlannerSchedule(gen)
	} else {
		opts := plannerOptions(p, start, end)
		rng := rand.New(rand.NewSource(r.opts.Seed))
		var pl planner.Planner = planner.NewRandomPlanner(opts, rng)
		name = plannerRandom
		if p.UseOptimizedSchedule {
			pl = planner.NewGreedyPlanner(opts, rng)
			name = plannerGreedy
		}
		sched = pl.Plan(net, net.Demand)
		if r.metrics != nil {
			r.metrics.TripsPlanned.WithLabelValues(name).Add(float64(sched.TripCount()))
		}
		if r.opts.PersistSchedule {
			if _, err := r.persist(ctx, fromPlan(sched, "gen-svc-"+runID), log); err != nil {
				res.fail(err)
				return res
			}
		}
	}
	log.WithFields(logrus.Fields{"planner": name, "trips": sched.TripCount(), "buses": len(sched)}).Info("schedule planned")

	out, err := sim.New(net, sched, passengers, simConfig(p, start, end)).Run(ctx)
	if err != nil {
		res.fail(err)
		return res
	}
	res.sim = out
	res.Simulation = summarize(name, sched.TripCount(), out)
	res.DepotReport = &out.Depots
	r.observeSimulation(out)
	r.publishEvents(runID, out, log)

	if r.opts.CSVExportDir != "" {
		if err := sim.ExportCSV(r.opts.CSVExportDir, out); err != nil {
			log.WithError(err).Warn("csv export failed")
		}
	}
	if out.Depots.Status != sim.DepotSuccess {
		res.Message = "simulation finished, some buses did not return to their depot"
	} else {
		res.Message = "simulation finished"
	}
	return res
}

// Optimize solves the frequency model and persists the resulting trips.
// Nothing is written when the solver does not reach a usable status.
func (r *Runner) Optimize(ctx context.Context) (res *Result) {
	runID, ctx, done := r.begin(ctx)
	defer done()
	res = &Result{RunID: runID, Mode: config.ModeOptimize, Status: StatusSuccess}
	log := logrus.WithFields(logrus.Fields{"run": runID, "mode": res.Mode})
	started := time.Now()
	defer func() { r.finish(res, started, log, recover()) }()

	net, err := r.loadNetwork(ctx)
	if err != nil {
		res.fail(err)
		return res
	}
	gen, err := r.solve(ctx, net, r.opts.Params, runID, res, log)
	if err != nil {
		res.fail(err)
		return res
	}
	n, err := r.persist(ctx, gen, log)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Optimization.TripsPersisted = n
	res.Message = res.Optimization.Message
	return res
}

// solve runs the optimizer and fills res.Optimization. A solver status
// without a usable assignment is returned as an error.
func (r *Runner) solve(ctx context.Context, net *transit.Network, p config.RunParams, runID string, res *Result, log *logrus.Entry) (transit.GeneratedSchedule, error) {
	sol, err := optimizer.Solve(ctx, net, optimizerParams(p))
	res.Optimization = &OptimizationDetails{
		SolverStatus:     string(sol.Status),
		SolverRuntimeMs:  sol.Runtime.Milliseconds(),
		SolverIterations: sol.Nodes,
	}
	if r.metrics != nil {
		r.metrics.ObserveSolve(string(sol.Status), sol.Nodes, sol.Runtime)
	}
	log.WithFields(logrus.Fields{
		"status":      sol.Status,
		"objective":   sol.Objective,
		"served":      sol.TotalServed,
		"nodes":       sol.Nodes,
		"variables":   sol.Variables,
		"constraints": sol.Constraints,
	}).Info("optimizer finished")

	if err != nil {
		res.Optimization.Message = fmt.Sprintf("model not solved, solver status %s", sol.Status)
		return transit.GeneratedSchedule{}, fmt.Errorf("optimize: %w", err)
	}
	if !sol.Status.Success() {
		res.Optimization.Message = fmt.Sprintf("no schedule found, solver status %s", sol.Status)
		return transit.GeneratedSchedule{}, errors.New(res.Optimization.Message)
	}

	gen := optimizer.Materialize(net, sol, "gen-svc-"+runID)
	res.Optimization.TotalPassengersServed = sol.TotalServed
	res.Optimization.Schedule = gen.Trips
	res.Optimization.Message = "optimal schedule found"
	if sol.Status == optimizer.StatusFeasible {
		res.Optimization.Message = "feasible schedule found, solver stopped at its limit"
	}
	if r.metrics != nil {
		r.metrics.TripsPlanned.WithLabelValues(plannerOptimizer).Add(float64(len(gen.Trips)))
	}
	return gen, nil
}

func (r *Runner) persist(ctx context.Context, gen transit.GeneratedSchedule, log *logrus.Entry) (int, error) {
	if r.writer == nil {
		log.Warn("no schedule writer configured, generated trips not persisted")
		return 0, nil
	}
	n, err := r.writer.SaveGeneratedTrips(ctx, gen)
	if err != nil {
		return 0, fmt.Errorf("persist schedule: %w", err)
	}
	if r.metrics != nil {
		r.metrics.TripsPersisted.Add(float64(n))
	}
	return n, nil
}

func (r *Runner) observeSimulation(out *sim.Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.SimulatedMinutes.Add(float64(out.FinalMinute - out.Start + 1))
	r.metrics.PassengersCompleted.Add(float64(out.Metrics.Completed))
	r.metrics.PassengersStranded.Add(float64(out.StillWaiting + out.StillOnboard + out.StillPending))
	r.metrics.AvgWaitMinutes.Set(out.Metrics.AvgWait)
	for _, b := range out.Depots.Buses {
		if !b.Returned {
			r.metrics.DepotFailures.Inc()
		}
	}
}

func (r *Runner) publishEvents(runID string, out *sim.Result, log *logrus.Entry) {
	if r.pub == nil {
		return
	}
	failed := 0
	for _, b := range out.Buses {
		for _, ev := range b.Events {
			if err := r.pub.PublishBusEvent(runID, b.ID, ev); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		log.WithFields(logrus.Fields{"failed": failed, "events": out.EventCount()}).Warn("some bus events were not published")
	}
}

// fromPlan expresses a heuristic schedule as generated entities: one block
// per bus and one journey pattern per route.
func fromPlan(s planner.Schedule, serviceID string) transit.GeneratedSchedule {
	b := transit.NewScheduleBuilder(serviceID)
	for _, busID := range s.BusIDs() {
		blk := b.Block(busID)
		for _, t := range s[busID] {
			b.Trip(blk, t.RouteID, t.Departure)
		}
	}
	return b.Schedule()
}

func plannerOptions(p config.RunParams, start, end int) planner.Options {
	return planner.Options{
		Start:              start,
		End:                end,
		MinLayover:         p.MinLayover,
		MaxLayover:         p.MaxLayover,
		MinTrips:           p.MinTripsPerBus,
		MaxTrips:           p.MaxTripsPerBus,
		ReturnBuffer:       p.ReturnBuffer,
		Interval:           p.SchedulingInterval,
		OvercrowdingFactor: p.OvercrowdingFactor,
		SpeedKmph:          p.DeadRunSpeedKmph,
	}
}

func simConfig(p config.RunParams, start, end int) sim.Config {
	return sim.Config{
		Start:              start,
		End:                end,
		OvercrowdingFactor: p.OvercrowdingFactor,
		SpeedKmph:          p.DeadRunSpeedKmph,
	}
}

func optimizerParams(p config.RunParams) optimizer.Params {
	return optimizer.Params{
		HorizonStart:      p.StartMinute,
		NumSlots:          p.Slots(),
		SlotLength:        p.SlotLength,
		Layover:           p.Layover,
		DemandThreshold:   p.MinDemandThreshold,
		MinFreqTrips:      p.MinFreqTrips,
		MinFreqPeriod:     p.MinFreqPeriod,
		RelaxMinFrequency: p.RelaxMinFrequency,
		TripPenalty:       p.TripPenalty,
		MaxNodes:          p.SolverMaxNodes,
		TimeLimit:         p.SolverTimeLimit,
	}
}
