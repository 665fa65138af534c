package optimizer

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"fleetsim/internal/demand"
	"fleetsim/internal/transit"
)

type varKind int

const (
	varTrips  varKind = iota // x[route, type, slot], integer
	varServed                // y[route, origin, dest, slot]
)

type variable struct {
	kind   varKind
	route  int
	typeID string
	slot   int
	origin string
	dest   string
}

type sense int

const (
	lessEq sense = iota
	greaterEq
	equal
)

type constraint struct {
	name   string
	coeffs map[int]float64
	sense  sense
	rhs    float64
}

// load is z[route, slot], the passengers on board departures of route that
// are still on the road in slot. It is the sum of ys and is substituted
// into the capacity row rather than carried as a column.
type load struct {
	route int
	slot  int
	ys    []int
}

// model is the frequency-setting program before conversion to standard form.
type model struct {
	vars  []variable
	cost  []float64 // minimised, so served passengers carry -1
	lo    []float64
	up    []float64 // +Inf when only rows bound the column
	rows  []constraint
	ints  []int // indices of integer variables
	span  []int // slots a departure stays on the road, per route index
	loads []load
}

type coverage struct {
	route int
	pairs []demand.ODSlot
}

// build lays out variables and constraints. Only demand that survived the
// threshold produces y variables. A trip variable is only created when some
// y could ride it, or when minimum frequency asks for trips regardless.
func build(ctx context.Context, net *transit.Network, p Params) (*model, error) {
	fleet := net.FleetByType()
	usable := 0
	for _, bt := range net.BusTypes {
		if len(fleet[bt.ID]) > 0 {
			usable++
		}
	}
	if usable == 0 {
		return nil, fmt.Errorf("%w: no bus type has available buses", ErrInvalidModel)
	}

	slots := demand.AggregateBySlot(net.Demand, p.HorizonStart, p.SlotLength, p.NumSlots, p.DemandThreshold)
	flat := slots.Flatten()

	covered := make([]coverage, len(net.Routes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range net.Routes {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := &net.Routes[i]
			c := coverage{route: i}
			for _, od := range flat {
				if r.Serves(od.Origin, od.Dest) {
					c.pairs = append(c.pairs, od)
				}
			}
			covered[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("route coverage: %w", err)
	}

	m := &model{span: make([]int, len(net.Routes))}
	for i := range net.Routes {
		m.span[i] = activeSlots(net.Routes[i].DurationMinutes(), p.Layover, p.SlotLength)
	}

	// y variables and the demand ceiling per (origin, dest, slot). A ceiling
	// over a single route becomes that y's upper bound.
	type odKey struct {
		o, d string
		s    int
	}
	ceiling := make(map[odKey]*constraint)
	var ceilOrder []odKey
	loadTerms := make(map[[2]int][]int) // route, slot -> y indices active there
	for _, c := range covered {
		for _, od := range c.pairs {
			y := m.add(variable{kind: varServed, route: c.route, origin: od.Origin, dest: od.Dest, slot: od.Slot}, -1, math.Inf(1))
			k := odKey{od.Origin, od.Dest, od.Slot}
			row, ok := ceiling[k]
			if !ok {
				row = &constraint{
					name:   fmt.Sprintf("demand[%s,%s,%d]", od.Origin, od.Dest, od.Slot),
					coeffs: map[int]float64{},
					sense:  lessEq,
					rhs:    od.Count,
				}
				ceiling[k] = row
				ceilOrder = append(ceilOrder, k)
			}
			row.coeffs[y] = 1
			for t := od.Slot; t < od.Slot+m.span[c.route] && t < p.NumSlots; t++ {
				loadTerms[[2]int{c.route, t}] = append(loadTerms[[2]int{c.route, t}], y)
			}
		}
	}
	for _, k := range ceilOrder {
		row := ceiling[k]
		if len(row.coeffs) == 1 {
			for y := range row.coeffs {
				m.up[y] = row.rhs
			}
			continue
		}
		m.rows = append(m.rows, *row)
	}

	xIdx := make(map[[3]int]int) // route, type index, slot
	for ri := range net.Routes {
		for ti, bt := range net.BusTypes {
			n := len(fleet[bt.ID])
			if n == 0 {
				continue
			}
			for s := 0; s < p.NumSlots; s++ {
				if p.MinFreqTrips == 0 && !carries(loadTerms, ri, s, m.span[ri], p.NumSlots) {
					continue
				}
				xIdx[[3]int{ri, ti, s}] = m.add(variable{kind: varTrips, route: ri, typeID: bt.ID, slot: s}, p.TripPenalty, float64(n))
				m.ints = append(m.ints, len(m.vars)-1)
			}
		}
	}

	// capacity per (route, slot) that carries any y: z - sum C*x <= 0.
	for ri, r := range net.Routes {
		for t := 0; t < p.NumSlots; t++ {
			ys := loadTerms[[2]int{ri, t}]
			if len(ys) == 0 {
				continue
			}
			m.loads = append(m.loads, load{route: ri, slot: t, ys: ys})
			capRow := constraint{name: fmt.Sprintf("capacity[%s,%d]", r.ID, t), coeffs: map[int]float64{}, sense: lessEq}
			for _, y := range ys {
				capRow.coeffs[y] += 1
			}
			for ti, bt := range net.BusTypes {
				for s := max(0, t-m.span[ri]+1); s <= t; s++ {
					if x, ok := xIdx[[3]int{ri, ti, s}]; ok {
						capRow.coeffs[x] -= float64(bt.Capacity)
					}
				}
			}
			m.rows = append(m.rows, capRow)
		}
	}

	// minimum frequency per route and period.
	if p.MinFreqTrips > 0 {
		for ri, r := range net.Routes {
			if p.RelaxMinFrequency {
				row := constraint{name: fmt.Sprintf("minfreq[%s]", r.ID), coeffs: map[int]float64{}, sense: greaterEq, rhs: 1}
				for k, x := range xIdx {
					if k[0] == ri {
						row.coeffs[x] = 1
					}
				}
				m.rows = append(m.rows, row)
				continue
			}
			periods := int(math.Ceil(float64(p.NumSlots*p.SlotLength) / float64(p.MinFreqPeriod)))
			for per := 0; per < periods; per++ {
				row := constraint{name: fmt.Sprintf("minfreq[%s,%d]", r.ID, per), coeffs: map[int]float64{}, sense: greaterEq, rhs: float64(p.MinFreqTrips)}
				for k, x := range xIdx {
					if k[0] == ri && k[2]*p.SlotLength/p.MinFreqPeriod == per {
						row.coeffs[x] = 1
					}
				}
				if len(row.coeffs) > 0 {
					m.rows = append(m.rows, row)
				}
			}
		}
	}

	// fleet availability per bus type.
	for ti, bt := range net.BusTypes {
		n := len(fleet[bt.ID])
		if n == 0 {
			continue
		}
		row := constraint{name: fmt.Sprintf("fleet[%s]", bt.ID), coeffs: map[int]float64{}, sense: lessEq, rhs: float64(n)}
		for k, x := range xIdx {
			if k[1] == ti {
				row.coeffs[x] = 1
			}
		}
		if len(row.coeffs) > 0 {
			m.rows = append(m.rows, row)
		}
	}
	return m, nil
}

func (m *model) add(v variable, cost, upper float64) int {
	m.vars = append(m.vars, v)
	m.cost = append(m.cost, cost)
	m.lo = append(m.lo, 0)
	m.up = append(m.up, upper)
	return len(m.vars) - 1
}

// carries reports whether a departure of route in slot s would be on the
// road in any slot with passengers to carry.
func carries(loadTerms map[[2]int][]int, route, s, span, numSlots int) bool {
	for t := s; t < s+span && t < numSlots; t++ {
		if len(loadTerms[[2]int{route, t}]) > 0 {
			return true
		}
	}
	return false
}

// activeSlots is how many slots a departure occupies:
// ceil((duration + layover) / slotLen), at least one.
func activeSlots(duration, layover, slotLen int) int {
	n := int(math.Ceil(float64(duration+layover) / float64(slotLen)))
	return max(1, n)
}
