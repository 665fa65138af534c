package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"fleetsim/internal/transit"
)

// Status is the solver outcome, named the way MILP solvers report it.
type Status string

const (
	StatusOptimal      Status = "OPTIMAL"
	StatusFeasible     Status = "FEASIBLE"
	StatusInfeasible   Status = "INFEASIBLE"
	StatusUnbounded    Status = "UNBOUNDED"
	StatusAbnormal     Status = "ABNORMAL"
	StatusModelInvalid Status = "MODEL_INVALID"
	StatusNotSolved    Status = "NOT_SOLVED"
)

// Success reports whether the status carries a usable assignment.
func (s Status) Success() bool { return s == StatusOptimal || s == StatusFeasible }

var ErrInvalidModel = errors.New("invalid optimization model")

const (
	DefaultTripPenalty = 0.01
	DefaultMaxNodes    = 20000
	intTol             = 1e-6
)

type Params struct {
	HorizonStart      int // minute of slot 0
	NumSlots          int
	SlotLength        int // minutes
	Layover           int // minutes added to a route's duration when counting active slots
	DemandThreshold   float64
	MinFreqTrips      int // per route and period; 0 disables the constraint
	MinFreqPeriod     int // minutes
	RelaxMinFrequency bool
	TripPenalty       float64
	MaxNodes          int           // branch-and-bound node limit
	TimeLimit         time.Duration // 0 means no limit beyond the context
}

func DefaultParams() Params {
	return Params{
		NumSlots:        24,
		SlotLength:      60,
		Layover:         10,
		DemandThreshold: 1,
		MinFreqPeriod:   60,
		TripPenalty:     DefaultTripPenalty,
		MaxNodes:        DefaultMaxNodes,
		TimeLimit:       60 * time.Second,
	}
}

// Validate rejects parameters no model can be built from.
func (p Params) Validate() error {
	switch {
	case p.NumSlots <= 0:
		return fmt.Errorf("%w: num slots must be positive, got %d", ErrInvalidModel, p.NumSlots)
	case p.SlotLength <= 0:
		return fmt.Errorf("%w: slot length must be positive, got %d", ErrInvalidModel, p.SlotLength)
	case p.Layover < 0:
		return fmt.Errorf("%w: layover must not be negative, got %d", ErrInvalidModel, p.Layover)
	case p.DemandThreshold < 0:
		return fmt.Errorf("%w: demand threshold must not be negative", ErrInvalidModel)
	case p.TripPenalty < 0:
		return fmt.Errorf("%w: trip penalty must not be negative", ErrInvalidModel)
	case p.MinFreqTrips < 0:
		return fmt.Errorf("%w: minimum frequency must not be negative", ErrInvalidModel)
	case p.MinFreqTrips > 0 && p.MinFreqPeriod <= 0:
		return fmt.Errorf("%w: minimum frequency period must be positive", ErrInvalidModel)
	}
	return nil
}

// Frequency is a positive x assignment: Count departures of BusTypeID on
// RouteID in Slot.
type Frequency struct {
	RouteID   string `json:"routeId"`
	BusTypeID string `json:"busTypeId"`
	Slot      int    `json:"slot"`
	Departure int    `json:"departureMinute"`
	Count     int    `json:"count"`
}

// Served is a positive y value.
type Served struct {
	RouteID string  `json:"routeId"`
	Origin  string  `json:"origin"`
	Dest    string  `json:"dest"`
	Slot    int     `json:"slot"`
	Count   float64 `json:"count"`
}

// Load is the number of passengers on board departures of RouteID that are
// still on the road in Slot.
type Load struct {
	RouteID    string  `json:"routeId"`
	Slot       int     `json:"slot"`
	Passengers float64 `json:"passengers"`
}

type Solution struct {
	Status      Status        `json:"status"`
	Objective   float64       `json:"objective"`   // served minus trip penalty
	TotalServed float64       `json:"totalServed"` // sum of y
	Frequencies []Frequency   `json:"frequencies"`
	Served      []Served      `json:"served"`
	Loads       []Load        `json:"loads"`
	Nodes       int           `json:"nodes"`
	Runtime     time.Duration `json:"runtime"`
	Variables   int           `json:"variables"`
	Constraints int           `json:"constraints"`
}

// Trips is the total number of departures assigned.
func (s *Solution) Trips() int {
	n := 0
	for _, f := range s.Frequencies {
		n += f.Count
	}
	return n
}

// Solve builds the frequency model for net and solves it by branch and
// bound over the LP relaxation. Solver failures are reported through
// Solution.Status; an error is returned only alongside MODEL_INVALID or
// when ctx is cancelled before the model is built.
func Solve(ctx context.Context, net *transit.Network, p Params) (*Solution, error) {
	started := time.Now()
	sol := &Solution{Status: StatusNotSolved}
	if err := p.Validate(); err != nil {
		sol.Status = StatusModelInvalid
		return sol, err
	}
	if p.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TimeLimit)
		defer cancel()
	}

	m, err := build(ctx, net, p)
	if err != nil {
		if errors.Is(err, ErrInvalidModel) {
			sol.Status = StatusModelInvalid
		}
		return sol, err
	}
	sol.Variables, sol.Constraints = len(m.vars), len(m.rows)
	log := logrus.WithFields(logrus.Fields{"variables": sol.Variables, "constraints": sol.Constraints})
	log.Debug("frequency model built")

	maxNodes := p.MaxNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	bb := &search{m: m, ctx: ctx, maxNodes: maxNodes, bestObj: math.Inf(1)}
	bb.run()

	sol.Nodes = bb.nodes
	sol.Runtime = time.Since(started)
	sol.Status = bb.status()
	log.WithFields(logrus.Fields{"status": sol.Status, "nodes": sol.Nodes, "runtime": sol.Runtime}).Info("frequency model solved")
	if !sol.Status.Success() {
		return sol, nil
	}

	sol.Objective = -bb.bestObj
	for i, v := range m.vars {
		val := bb.best[i]
		switch v.kind {
		case varTrips:
			n := int(math.Round(val))
			if n <= 0 {
				continue
			}
			sol.Frequencies = append(sol.Frequencies, Frequency{
				RouteID:   net.Routes[v.route].ID,
				BusTypeID: v.typeID,
				Slot:      v.slot,
				Departure: p.HorizonStart + v.slot*p.SlotLength,
				Count:     n,
			})
		case varServed:
			if val <= intTol {
				continue
			}
			sol.TotalServed += val
			sol.Served = append(sol.Served, Served{
				RouteID: net.Routes[v.route].ID,
				Origin:  v.origin,
				Dest:    v.dest,
				Slot:    v.slot,
				Count:   val,
			})
		}
	}
	for _, l := range m.loads {
		z := 0.0
		for _, y := range l.ys {
			z += bb.best[y]
		}
		if z > intTol {
			sol.Loads = append(sol.Loads, Load{RouteID: net.Routes[l.route].ID, Slot: l.slot, Passengers: z})
		}
	}
	return sol, nil
}

// bound restricts one integer variable during branching.
type bound struct {
	col   int
	sense sense
	value float64
}

type search struct {
	m        *model
	ctx      context.Context
	maxNodes int
	tab      *tableau

	nodes      int
	best       []float64
	bestObj    float64
	found      bool
	limited    bool
	incomplete bool // some node relaxation failed for a reason other than infeasibility
	rootErr    error
}

// run solves the root relaxation, looks for a rounded incumbent and then
// explores the tree depth first, taking the child on the side the relaxed
// value rounds to first. Every node after the root re-optimises the shared
// tableau under its own bounds.
func (s *search) run() {
	s.nodes = 1
	if len(s.m.rows) == 0 {
		s.offer(make([]float64, len(s.m.vars)), 0)
		return
	}
	s.tab = newTableau(s.ctx, s.m)
	if err := s.tab.solve(); err != nil {
		if errors.Is(err, errLimit) {
			s.limited = true
		} else {
			s.rootErr = err
		}
		return
	}
	x, obj := s.tab.values()
	j := s.branchVar(x)
	if j < 0 {
		s.offer(x, obj)
		return
	}
	if err := s.round(x); err != nil {
		s.limited = true
		return
	}

	stack := s.children(nil, x, j)
	for len(stack) > 0 {
		if s.nodes >= s.maxNodes || s.ctx.Err() != nil {
			s.limited = true
			return
		}
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		s.nodes++

		lo, up := s.bounds(node)
		if err := s.tab.resolve(lo, up); err != nil {
			switch {
			case errors.Is(err, errLimit):
				s.limited = true
				return
			case !errors.Is(err, lp.ErrInfeasible):
				logrus.WithError(err).Debug("node relaxation failed")
				s.incomplete = true
			}
			continue
		}
		x, obj := s.tab.values()
		if s.found && obj >= s.bestObj-intTol {
			continue
		}
		j := s.branchVar(x)
		if j < 0 {
			s.offer(x, obj)
			continue
		}
		stack = append(stack, s.children(node, x, j)...)
	}
}

func (s *search) children(node []bound, x []float64, j int) [][]bound {
	v := x[j]
	fl := math.Floor(v)
	down := append(append([]bound(nil), node...), bound{col: j, sense: lessEq, value: fl})
	up := append(append([]bound(nil), node...), bound{col: j, sense: greaterEq, value: fl + 1})
	if v-fl >= 0.5 {
		return [][]bound{down, up}
	}
	return [][]bound{up, down}
}

// bounds applies a node's branching bounds to the model's own.
func (s *search) bounds(node []bound) ([]float64, []float64) {
	lo := append([]float64(nil), s.m.lo...)
	up := append([]float64(nil), s.m.up...)
	for _, b := range node {
		if b.sense == lessEq {
			up[b.col] = math.Min(up[b.col], b.value)
		} else {
			lo[b.col] = math.Max(lo[b.col], b.value)
		}
	}
	return lo, up
}

// round looks for an incumbent before branching. Trip counts are floored
// first, with the served passengers re-optimised around them; then a dive
// fixes every integral count plus the least fractional one until the
// relaxation is integral or infeasible. Only the time limit is reported.
func (s *search) round(root []float64) error {
	lo, up := s.bounds(nil)
	for _, j := range s.m.ints {
		v := math.Min(math.Floor(root[j]+intTol), up[j])
		lo[j], up[j] = v, v
	}
	switch err := s.tab.resolve(lo, up); {
	case err == nil:
		s.offer(s.tab.values())
	case errors.Is(err, errLimit):
		return err
	}

	lo, up = s.bounds(nil)
	for range s.m.ints {
		if err := s.tab.resolve(lo, up); err != nil {
			if errors.Is(err, errLimit) {
				return err
			}
			return nil
		}
		x, obj := s.tab.values()
		if s.found && obj >= s.bestObj-intTol {
			return nil
		}
		pick, gap := -1, 1.0
		for _, j := range s.m.ints {
			if lo[j] == up[j] {
				continue
			}
			f := x[j] - math.Floor(x[j])
			d := math.Min(f, 1-f)
			if d <= intTol {
				lo[j], up[j] = math.Round(x[j]), math.Round(x[j])
				continue
			}
			if d < gap {
				pick, gap = j, d
			}
		}
		if pick < 0 {
			s.offer(x, obj)
			return nil
		}
		lo[pick], up[pick] = math.Round(x[pick]), math.Round(x[pick])
	}
	return nil
}

func (s *search) offer(x []float64, obj float64) {
	if s.found && obj >= s.bestObj {
		return
	}
	s.best, s.bestObj, s.found = x, obj, true
}

// branchVar returns the most fractional integer variable, or -1.
func (s *search) branchVar(x []float64) int {
	best, gap := -1, intTol
	for _, j := range s.m.ints {
		f := x[j] - math.Floor(x[j])
		if d := math.Min(f, 1-f); d > gap {
			best, gap = j, d
		}
	}
	return best
}

func (s *search) status() Status {
	switch {
	case s.rootErr != nil:
		switch {
		case errors.Is(s.rootErr, lp.ErrInfeasible):
			return StatusInfeasible
		case errors.Is(s.rootErr, lp.ErrUnbounded):
			return StatusUnbounded
		default:
			logrus.WithError(s.rootErr).Warn("lp relaxation failed")
			return StatusAbnormal
		}
	case (s.limited || s.incomplete) && s.found:
		return StatusFeasible
	case s.limited:
		return StatusNotSolved
	case s.incomplete:
		return StatusAbnormal
	case s.found:
		return StatusOptimal
	default:
		return StatusInfeasible
	}
}
