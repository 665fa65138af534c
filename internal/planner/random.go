package planner

import (
	"math/rand"
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"fleetsim/internal/transit"
)

const (
	scoreWindowMinutes = 30
	topCandidates      = 3
)

// RandomPlanner assigns each bus a random number of trips on routes that
// start at its depot, leaning towards routes with demand waiting near the
// earliest possible departure.
type RandomPlanner struct {
	opts Options
	rng  *rand.Rand
}

func NewRandomPlanner(opts Options, rng *rand.Rand) *RandomPlanner {
	return &RandomPlanner{opts: opts, rng: rng}
}

func (p *RandomPlanner) Plan(net *transit.Network, demand []transit.StopDemand) Schedule {
	sched := make(Schedule)
	cutoff := p.opts.cutoff()
	for _, bus := range net.Buses {
		log := logrus.WithField("bus", bus.ID)
		candidates := net.RoutesFrom(bus.DepotStopID)
		if len(candidates) == 0 {
			log.WithField("stop", bus.DepotStopID).Info("no route starts at depot, bus left unscheduled")
			continue
		}
		target := randBetween(p.rng, p.opts.MinTrips, p.opts.MaxTrips)
		prevEnd := p.opts.Start
		for i := 0; i < target; i++ {
			layover := 0
			if i > 0 {
				layover = randBetween(p.rng, p.opts.MinLayover, p.opts.MaxLayover)
			}
			minDep := prevEnd + layover
			if minDep > cutoff {
				log.WithField("trips", i).Debug("no time left before cutoff")
				break
			}
			route := p.pickRoute(candidates, demand, minDep)
			dep := randBetween(p.rng, minDep, cutoff)
			sched.Add(bus.ID, PlannedTrip{RouteID: route.ID, Departure: dep, Layover: layover})
			prevEnd = dep + route.DurationMinutes()
		}
	}
	sched.Sort()
	return sched
}

type scoredRoute struct {
	route *transit.Route
	score float64
}

func (p *RandomPlanner) pickRoute(candidates []*transit.Route, demand []transit.StopDemand, minDep int) *transit.Route {
	scored := lo.Map(candidates, func(r *transit.Route, _ int) scoredRoute {
		return scoredRoute{route: r, score: estimatedDemandAt(demand, r.FirstStop(), minDep)}
	})
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	top := scored[:min(topCandidates, len(scored))]
	if lo.EveryBy(top, func(s scoredRoute) bool { return s.score == 0 }) {
		return candidates[p.rng.Intn(len(candidates))]
	}
	return top[p.rng.Intn(len(top))].route
}

// estimatedDemandAt sums demand originating at stop whose start lies within
// scoreWindowMinutes of minute.
func estimatedDemandAt(demand []transit.StopDemand, stop string, minute int) float64 {
	sum := 0.0
	for _, d := range demand {
		if d.Origin != stop {
			continue
		}
		if diff := d.StartMinute - minute; diff >= -scoreWindowMinutes && diff <= scoreWindowMinutes {
			sum += d.Count
		}
	}
	return sum
}
