package planner

import (
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/deadrun"
	"fleetsim/internal/transit"
)

// GreedyPlanner repeatedly gives the earliest-available bus the route and
// departure that carries the most passengers currently waiting. Passengers
// it plans to carry are taken out of its private queues so they are not
// counted twice.
type GreedyPlanner struct {
	opts Options
	rng  *rand.Rand
	est  *deadrun.Estimator
}

func NewGreedyPlanner(opts Options, rng *rand.Rand) *GreedyPlanner {
	return &GreedyPlanner{opts: opts, rng: rng, est: deadrun.NewEstimator(opts.SpeedKmph)}
}

// waitingGroup is a batch of identical passengers in a planning queue.
type waitingGroup struct {
	dest    string
	arrival int
	count   int
}

type greedyBus struct {
	bus        transit.Bus
	avail      int
	loc        string
	maxOnboard int
	layover    int
}

type candidate struct {
	route  *transit.Route
	dep    int
	served int
}

func (p *GreedyPlanner) Plan(net *transit.Network, demand []transit.StopDemand) Schedule {
	sched := make(Schedule)
	cutoff := p.opts.cutoff()
	step := max(1, p.opts.Interval)

	buses := make([]*greedyBus, 0, len(net.Buses))
	for _, b := range net.Buses {
		capacity, ok := net.Capacity(b)
		if !ok {
			logrus.WithField("bus", b.ID).Warn("bus type not found, bus left unscheduled")
			continue
		}
		buses = append(buses, &greedyBus{
			bus:        b,
			avail:      p.opts.Start,
			loc:        b.DepotStopID,
			maxOnboard: int(math.Floor(float64(capacity) * p.opts.OvercrowdingFactor)),
		})
	}

	pending := pendingGroups(demand)
	queues := make(map[string][]*waitingGroup)
	next := 0

	for {
		b := earliest(buses, cutoff)
		if b == nil {
			break
		}
		for next < len(pending) && pending[next].arrival <= b.avail {
			g := pending[next]
			queues[g.origin] = append(queues[g.origin], &waitingGroup{dest: g.dest, arrival: g.arrival, count: g.count})
			next++
		}
		if next == len(pending) && queuesEmpty(queues) {
			break
		}

		best := candidate{}
		for i := range net.Routes {
			r := &net.Routes[i]
			dep := b.avail + p.deadRun(net, b.loc, r.FirstStop(), b.avail)
			if dep > cutoff {
				continue
			}
			served := carry(r, dep, queues, b.maxOnboard, false)
			if best.route == nil || served > best.served || (served == best.served && dep < best.dep) {
				best = candidate{route: r, dep: dep, served: served}
			}
		}
		if best.route == nil || best.served == 0 {
			b.avail += step
			continue
		}

		carry(best.route, best.dep, queues, b.maxOnboard, true)
		sched.Add(b.bus.ID, PlannedTrip{RouteID: best.route.ID, Departure: best.dep, Layover: b.layover})
		logrus.WithFields(logrus.Fields{"bus": b.bus.ID, "route": best.route.ID, "departure": best.dep, "served": best.served}).
			Debug("greedy trip planned")

		b.layover = randBetween(p.rng, p.opts.MinLayover, p.opts.MaxLayover)
		b.avail = best.dep + best.route.DurationMinutes() + b.layover
		b.loc = best.route.LastStop()
	}
	sched.Sort()
	return sched
}

func (p *GreedyPlanner) deadRun(net *transit.Network, from, to string, at int) int {
	if from == to {
		return 0
	}
	a, okA := net.Stop(from)
	b, okB := net.Stop(to)
	if !okA || !okB {
		return deadrun.FallbackMinutes
	}
	return p.est.Minutes(a, b, at)
}

// earliest picks the bus with the lowest availability within the cutoff.
// Buses are ordered by id, so equal availability resolves to the lowest id.
func earliest(buses []*greedyBus, cutoff int) *greedyBus {
	var best *greedyBus
	for _, b := range buses {
		if b.avail > cutoff {
			continue
		}
		if best == nil || b.avail < best.avail {
			best = b
		}
	}
	return best
}

type pendingGroup struct {
	origin  string
	dest    string
	arrival int
	count   int
}

func pendingGroups(demand []transit.StopDemand) []pendingGroup {
	out := make([]pendingGroup, 0, len(demand))
	for _, d := range demand {
		if n := int(d.Count); n > 0 && d.Origin != d.Dest {
			out = append(out, pendingGroup{origin: d.Origin, dest: d.Dest, arrival: d.StartMinute, count: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].arrival < out[j].arrival })
	return out
}

func queuesEmpty(queues map[string][]*waitingGroup) bool {
	for _, q := range queues {
		for _, g := range q {
			if g.count > 0 {
				return false
			}
		}
	}
	return true
}

// carry walks a trip along route departing at dep and returns how many
// waiting passengers it would board under maxOnboard. With consume set the
// boarded passengers are removed from the queues.
func carry(r *transit.Route, dep int, queues map[string][]*waitingGroup, maxOnboard int, consume bool) int {
	type load struct {
		dest  string
		count int
	}
	var onboard []load
	onboardN, served := 0, 0
	seg := r.SegmentMinutes()
	for i, stop := range r.StopIDs {
		kept := onboard[:0]
		for _, l := range onboard {
			if l.dest == stop {
				onboardN -= l.count
				continue
			}
			kept = append(kept, l)
		}
		onboard = kept
		if i == len(r.StopIDs)-1 {
			break
		}

		at := dep + i*seg
		q := queues[stop]
		for _, g := range q {
			if onboardN >= maxOnboard {
				break
			}
			if g.count == 0 || g.arrival > at || r.IndexOf(g.dest, i+1) < 0 {
				continue
			}
			take := min(g.count, maxOnboard-onboardN)
			onboard = append(onboard, load{dest: g.dest, count: take})
			onboardN += take
			served += take
			if consume {
				g.count -= take
			}
		}
		if consume {
			queues[stop] = compact(q)
		}
	}
	return served
}

func compact(q []*waitingGroup) []*waitingGroup {
	out := q[:0]
	for _, g := range q {
		if g.count > 0 {
			out = append(out, g)
		}
	}
	return out
}
