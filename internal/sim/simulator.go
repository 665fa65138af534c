package sim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/deadrun"
	"fleetsim/internal/demand"
	"fleetsim/internal/planner"
	"fleetsim/internal/transit"
)

type Config struct {
	Start, End         int // simulated minutes from midnight, End inclusive
	OvercrowdingFactor float64
	SpeedKmph          float64
}

// Simulator advances a fleet minute by minute over a planned schedule.
// A Simulator owns all of its mutable state and runs on one goroutine;
// buses are stepped in bus-id order every minute, so two buses never
// touch a stop queue in the same instant.
type Simulator struct {
	net *transit.Network
	cfg Config
	est *deadrun.Estimator

	stops     map[string]*stopState
	stopOrder []*stopState
	buses     []*Bus
	pending   []*demand.Passenger
	completed []*demand.Passenger
	total     int
	now       int
}

// New prepares a run. Passengers arriving at or before cfg.Start are queued
// at their origin immediately; the rest are released as the clock reaches
// their arrival minute.
func New(net *transit.Network, sched planner.Schedule, passengers []*demand.Passenger, cfg Config) *Simulator {
	s := &Simulator{
		net:   net,
		cfg:   cfg,
		est:   deadrun.NewEstimator(cfg.SpeedKmph),
		stops: make(map[string]*stopState, len(net.Stops)),
		now:   cfg.Start,
	}
	for _, st := range net.Stops {
		ss := &stopState{info: st}
		s.stops[st.ID] = ss
		s.stopOrder = append(s.stopOrder, ss)
	}

	for _, fb := range net.Buses {
		capacity, ok := net.Capacity(fb)
		if !ok {
			logrus.WithField("bus", fb.ID).Warn("bus type not found, bus not simulated")
			continue
		}
		b := &Bus{
			ID:         fb.ID,
			TypeID:     fb.TypeID,
			Depot:      fb.DepotStopID,
			MaxOnboard: int(math.Floor(float64(capacity) * cfg.OvercrowdingFactor)),
			Stop:       fb.DepotStopID,
			Trips:      append([]planner.PlannedTrip(nil), sched[fb.ID]...),
			Status:     StatusAtDepot,
			Clock:      cfg.Start,
		}
		sort.SliceStable(b.Trips, func(i, j int) bool { return b.Trips[i].Departure < b.Trips[j].Departure })
		s.buses = append(s.buses, b)
		s.log(b, cfg.Start, "ready at depot", 0, 0)
	}
	for _, id := range sched.BusIDs() {
		if _, ok := net.Bus(id); !ok {
			logrus.WithField("bus", id).Warn("schedule references unknown bus, trips skipped")
		}
	}

	present, pending := demand.Split(passengers, cfg.Start)
	for _, p := range present {
		s.place(p)
	}
	for _, p := range pending {
		if _, ok := s.stops[p.Origin]; !ok {
			logrus.WithField("stop", p.Origin).Warn("passenger origin not in network, skipped")
			continue
		}
		s.pending = append(s.pending, p)
		s.total++
	}
	return s
}

func (s *Simulator) place(p *demand.Passenger) {
	st, ok := s.stops[p.Origin]
	if !ok {
		logrus.WithField("stop", p.Origin).Warn("passenger origin not in network, skipped")
		return
	}
	st.enqueue(p)
	s.total++
}

// Run steps the simulation from Start to End and returns the collected
// telemetry. It stops early once every bus is idle and no passenger is left
// anywhere, but never before the first minute has elapsed. A cancelled
// context aborts the run.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	for t := s.cfg.Start; t <= s.cfg.End; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation aborted at minute %d: %w", t, err)
		}
		s.now = t
		s.step(t)
		if t > s.cfg.Start && s.done() {
			break
		}
	}
	return s.result(), nil
}

func (s *Simulator) step(t int) {
	s.release(t)
	for _, b := range s.buses {
		if b.Status == StatusIdle || b.Clock > t {
			continue
		}
		s.stepBus(b, t)
		if b.Clock < t {
			b.Clock = t
		}
	}
}

func (s *Simulator) release(t int) {
	i := 0
	for ; i < len(s.pending) && s.pending[i].ArrivalMinute <= t; i++ {
		s.stops[s.pending[i].Origin].enqueue(s.pending[i])
	}
	s.pending = s.pending[i:]
}

func (s *Simulator) stepBus(b *Bus, t int) {
	switch {
	case b.enRoute:
		b.remaining--
		if b.remaining > 0 {
			return
		}
		b.enRoute = false
		b.Pos++
		b.Stop = b.Route.StopIDs[b.Pos]
		b.Status = StatusAtStop
		s.exchange(b, t, fmt.Sprintf("arrived at %s", b.Stop))
	case b.Status == StatusDeadRunning:
		b.Status = StatusAtStop
		s.log(b, t, fmt.Sprintf("arrived at %s after dead run", b.Stop), 0, 0)
	}
	s.advance(b, t)
}

// exchange alights passengers for this stop and boards those the current
// route can still carry, up to MaxOnboard.
func (s *Simulator) exchange(b *Bus, t int, desc string) {
	st := s.stops[b.Stop]
	off := b.alight(t)
	st.alight += len(off)
	s.completed = append(s.completed, off...)

	on := st.board(b.MaxOnboard-len(b.Onboard), func(p *demand.Passenger) bool { return b.carries(p.Dest) }, t)
	b.Onboard = append(b.Onboard, on...)
	s.log(b, t, desc, len(on), len(off))
}

func (s *Simulator) advance(b *Bus, t int) {
	if b.Route != nil {
		if b.Pos < len(b.Route.StopIDs)-1 {
			s.depart(b, t)
			return
		}
		b.Status = StatusCompleted
		s.log(b, t, fmt.Sprintf("completed trip on route %s", b.Route.ID), 0, 0)
		b.Route = nil
	}

	for b.next < len(b.Trips) {
		trip := b.Trips[b.next]
		route, ok := s.net.Route(trip.RouteID)
		if !ok {
			logrus.WithFields(logrus.Fields{"bus": b.ID, "route": trip.RouteID}).Warn("planned trip references unknown route, skipped")
			b.next++
			continue
		}
		if b.Stop != route.FirstStop() {
			s.deadRun(b, route.FirstStop(), t)
			return
		}
		if t < trip.Departure {
			if b.Status != StatusWaiting {
				b.Status = StatusWaiting
				s.log(b, t, fmt.Sprintf("waiting for %s departure at minute %d", route.ID, trip.Departure), 0, 0)
			}
			b.Clock = trip.Departure
			return
		}
		b.next++
		b.Route = route
		b.Pos = 0
		b.Status = StatusAtStop
		s.exchange(b, t, fmt.Sprintf("started trip on route %s", route.ID))
		s.depart(b, t)
		return
	}
	s.finish(b, t)
}

func (s *Simulator) depart(b *Bus, t int) {
	b.enRoute = true
	b.remaining = b.Route.SegmentMinutes()
	b.Status = StatusEnRoute
	s.log(b, t, fmt.Sprintf("departed %s towards %s", b.Stop, b.Route.StopIDs[b.Pos+1]), 0, 0)
}

func (s *Simulator) deadRun(b *Bus, to string, t int) {
	minutes := s.travel(b.Stop, to, t)
	b.Status = StatusDeadRunning
	s.log(b, t, fmt.Sprintf("dead run from %s to %s (%d min)", b.Stop, to, minutes), 0, 0)
	b.Stop = to
	b.Clock = t + minutes
}

// finish sends a bus with no trips left back to its depot in a single step
// and parks it.
func (s *Simulator) finish(b *Bus, t int) {
	if b.Stop != b.Depot {
		minutes := s.travel(b.Stop, b.Depot, t)
		from := b.Stop
		b.Stop = b.Depot
		b.Status = StatusAtDepot
		ev := s.event(b, t, fmt.Sprintf("returned to depot from %s (%d min dead run)", from, minutes), 0, 0)
		ev.Direction = "depot"
		b.Events = append(b.Events, ev)
	}
	b.Status = StatusIdle
	s.log(b, t, "idle at depot", 0, 0)
}

func (s *Simulator) travel(from, to string, t int) int {
	a, okA := s.net.Stop(from)
	b, okB := s.net.Stop(to)
	if !okA || !okB {
		return deadrun.FallbackMinutes
	}
	return s.est.Minutes(a, b, t)
}

func (s *Simulator) done() bool {
	if len(s.pending) > 0 {
		return false
	}
	for _, b := range s.buses {
		if b.Status != StatusIdle || len(b.Onboard) > 0 {
			return false
		}
	}
	for _, st := range s.stopOrder {
		if len(st.queue) > 0 {
			return false
		}
	}
	return true
}

func (s *Simulator) event(b *Bus, t int, desc string, boarded, alighted int) BusEvent {
	waiting := 0
	if st, ok := s.stops[b.Stop]; ok {
		waiting = len(st.queue)
	}
	return BusEvent{
		Time:        t,
		Description: desc,
		StopID:      b.Stop,
		Onboard:     len(b.Onboard),
		Waiting:     waiting,
		Boarded:     boarded,
		Alighted:    alighted,
		Direction:   b.direction(),
		Status:      b.Status,
	}
}

func (s *Simulator) log(b *Bus, t int, desc string, boarded, alighted int) {
	ev := s.event(b, t, desc, boarded, alighted)
	if b.enRoute {
		ev.StopID = ""
		ev.Waiting = 0
	}
	b.Events = append(b.Events, ev)
}
