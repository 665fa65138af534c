package optimizer

import (
	"context"
	"errors"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	feasTol       = 1e-7
	optTol        = 1e-9
	pivotTol      = 1e-9
	tieTol        = 1e-12
	blandAfter    = 50 // degenerate pivots in a row before switching to Bland's rule
	refactorEvery = 1000
	ctxEvery      = 32
)

var (
	errLimit = errors.New("solver limit reached")
	errStall = errors.New("simplex iteration limit reached")
)

// tableau is a dense bounded-variable simplex over
//
//	A x + s = b,  lo <= (x, s) <= up
//
// Row i holds B^-1 [A I | b] for the current basis B, so the last column is
// B^-1 b. Nonbasic columns always sit on one of their bounds. Rows the model
// states as >= are negated on the way in, which leaves every slack in
// [0, +Inf), or [0, 0] for equalities. Rows whose slack cannot start basic
// get an artificial column that phase one drives to zero.
//
// The same tableau is reused across branch-and-bound nodes: a node only
// changes structural bounds, which keeps the last basis dual feasible, so
// resolve restarts from it with the dual simplex.
type tableau struct {
	ctx  context.Context
	rows int
	cols int // structurals, slacks and artificials; the rhs is column cols
	nv   int // structurals

	orig *mat.Dense // [A I | b] as built, for refactoring
	tab  *mat.Dense
	d    []float64 // reduced costs under cost
	cost []float64
	obj  []float64 // model objective over every column
	lo   []float64
	up   []float64
	x    []float64
	arts []int

	basis []int // column basic in each row
	pos   []int // row of a basic column, -1 when nonbasic

	pivots   int
	sinceRef int
}

func newTableau(ctx context.Context, m *model) *tableau {
	rows, nv := len(m.rows), len(m.vars)
	nart := 0
	for _, r := range m.rows {
		if needsArtificial(r) {
			nart++
		}
	}
	cols := nv + rows + nart
	t := &tableau{
		ctx:   ctx,
		rows:  rows,
		cols:  cols,
		nv:    nv,
		orig:  mat.NewDense(rows, cols+1, nil),
		d:     make([]float64, cols),
		obj:   make([]float64, cols),
		lo:    make([]float64, cols),
		up:    make([]float64, cols),
		x:     make([]float64, cols),
		basis: make([]int, rows),
		pos:   make([]int, cols),
	}
	copy(t.obj, m.cost)
	copy(t.lo, m.lo)
	copy(t.up, m.up)
	for j := range t.pos {
		t.pos[j] = -1
	}

	next := nv + rows
	for i, r := range m.rows {
		mul, sc := 1.0, 1.0
		if r.sense == greaterEq {
			mul = -1
		}
		b := mul * r.rhs
		art := needsArtificial(r)
		if b < 0 {
			mul, sc, b = -mul, -1, -b
		}
		for j, v := range r.coeffs {
			t.orig.Set(i, j, mul*v)
		}
		s := nv + i
		t.orig.Set(i, s, sc)
		t.orig.Set(i, cols, b)
		t.up[s] = math.Inf(1)
		if r.sense == equal {
			t.up[s] = 0
		}
		t.basis[i] = s
		if art {
			a := next
			next++
			t.orig.Set(i, a, 1)
			t.up[a] = math.Inf(1)
			t.arts = append(t.arts, a)
			t.basis[i] = a
		}
		t.pos[t.basis[i]] = i
	}
	for j := 0; j < nv; j++ {
		t.x[j] = t.lo[j]
	}
	t.tab = mat.DenseCopyOf(t.orig)
	t.recompute()
	return t
}

// needsArtificial reports whether the row's slack is out of its bounds when
// every structural sits at zero.
func needsArtificial(r constraint) bool {
	b := r.rhs
	if r.sense == greaterEq {
		b = -b
	}
	return b < 0 || (r.sense == equal && b != 0)
}

// solve finds an optimal basis from scratch: phase one minimises the sum of
// the artificials, phase two the model objective.
func (t *tableau) solve() error {
	if len(t.arts) > 0 {
		phase1 := make([]float64, t.cols)
		for _, a := range t.arts {
			phase1[a] = 1
		}
		t.setCost(phase1)
		if err := t.primal(); err != nil {
			return err
		}
		infeas := 0.0
		for _, a := range t.arts {
			infeas += t.x[a]
		}
		if infeas > feasTol*float64(t.rows) {
			return lp.ErrInfeasible
		}
		// artificials still in the basis sit at zero and leave on the
		// first pivot that touches their row.
		for _, a := range t.arts {
			t.up[a] = 0
		}
	}
	t.setCost(t.obj)
	return t.primal()
}

// resolve re-optimises under new structural bounds, starting from the
// current basis.
func (t *tableau) resolve(lo, up []float64) error {
	for j := 0; j < t.nv; j++ {
		if lo[j] > up[j]+feasTol {
			return lp.ErrInfeasible
		}
		t.lo[j], t.up[j] = lo[j], up[j]
		if t.pos[j] >= 0 {
			continue
		}
		if t.d[j] < 0 && !math.IsInf(up[j], 1) {
			t.x[j] = up[j]
		} else {
			t.x[j] = lo[j]
		}
	}
	t.recompute()
	if err := t.dual(); err != nil {
		return err
	}
	return t.primal()
}

// values returns the structural columns and their objective.
func (t *tableau) values() ([]float64, float64) {
	x := append([]float64(nil), t.x[:t.nv]...)
	return x, floats.Dot(t.obj[:t.nv], x)
}

func (t *tableau) setCost(c []float64) {
	t.cost = c
	t.price()
}

func (t *tableau) price() {
	copy(t.d, t.cost)
	for i, b := range t.basis {
		if cb := t.cost[b]; cb != 0 {
			floats.AddScaled(t.d, -cb, t.tab.RawRowView(i)[:t.cols])
		}
	}
	for _, b := range t.basis {
		t.d[b] = 0
	}
}

// recompute derives the basic values from the nonbasic ones.
func (t *tableau) recompute() {
	var nz []int
	for j := 0; j < t.cols; j++ {
		if t.pos[j] < 0 && t.x[j] != 0 {
			nz = append(nz, j)
		}
	}
	for i, b := range t.basis {
		row := t.tab.RawRowView(i)
		v := row[t.cols]
		for _, j := range nz {
			v -= row[j] * t.x[j]
		}
		t.x[b] = v
	}
}

func (t *tableau) tick(iter int) error {
	if iter > 50*(t.rows+t.cols) {
		return errStall
	}
	if iter%ctxEvery == 0 && t.ctx.Err() != nil {
		return errLimit
	}
	return nil
}

// primal runs the bounded primal simplex from a primal feasible point.
func (t *tableau) primal() error {
	degenerate := 0
	for iter := 0; ; iter++ {
		if err := t.tick(iter); err != nil {
			return err
		}
		q, dir := t.entering(degenerate > blandAfter)
		if q < 0 {
			return nil
		}
		r, step := t.ratio(q, dir)
		if r < 0 && math.IsInf(step, 1) {
			return lp.ErrUnbounded
		}
		t.move(q, dir*step)
		if r < 0 {
			if dir > 0 {
				t.x[q] = t.up[q]
			} else {
				t.x[q] = t.lo[q]
			}
		} else {
			b := t.basis[r]
			if t.tab.At(r, q)*dir > 0 {
				t.x[b] = t.lo[b]
			} else {
				t.x[b] = t.up[b]
			}
			t.pivot(r, q)
		}
		if step < tieTol {
			degenerate++
		} else {
			degenerate = 0
		}
	}
}

// entering picks the nonbasic column with the most negative reduced cost in
// a direction it can move, or the lowest such index under Bland's rule.
func (t *tableau) entering(bland bool) (int, float64) {
	best, dir, score := -1, 0.0, optTol
	for j := 0; j < t.cols; j++ {
		if t.pos[j] >= 0 || t.up[j]-t.lo[j] <= feasTol {
			continue
		}
		dj := t.d[j]
		var s, dd float64
		switch {
		case dj < -optTol && t.x[j] < t.up[j]-feasTol:
			s, dd = -dj, 1
		case dj > optTol && t.x[j] > t.lo[j]+feasTol:
			s, dd = dj, -1
		default:
			continue
		}
		if bland {
			return j, dd
		}
		if s > score {
			best, dir, score = j, dd, s
		}
	}
	return best, dir
}

// ratio finds how far column q can move in dir. It returns the blocking row,
// or -1 when q reaches its own opposite bound first.
func (t *tableau) ratio(q int, dir float64) (int, float64) {
	step := t.up[q] - t.x[q]
	if dir < 0 {
		step = t.x[q] - t.lo[q]
	}
	r, piv := -1, 0.0
	for i, b := range t.basis {
		a := t.tab.At(i, q) * dir
		if math.Abs(a) < pivotTol {
			continue
		}
		var lim float64
		if a > 0 {
			lim = (t.x[b] - t.lo[b]) / a
		} else {
			if math.IsInf(t.up[b], 1) {
				continue
			}
			lim = (t.up[b] - t.x[b]) / -a
		}
		lim = math.Max(lim, 0)
		if lim < step-tieTol || (r >= 0 && lim <= step+tieTol && math.Abs(a) > piv) {
			r, piv = i, math.Abs(a)
			step = math.Min(step, lim)
		}
	}
	return r, step
}

// move shifts nonbasic column q by delta and the basic columns with it.
func (t *tableau) move(q int, delta float64) {
	if delta == 0 {
		return
	}
	t.x[q] += delta
	for i, b := range t.basis {
		t.x[b] -= t.tab.At(i, q) * delta
	}
}

// dual runs the bounded dual simplex from a dual feasible basis until every
// basic column is inside its bounds.
func (t *tableau) dual() error {
	for iter := 0; ; iter++ {
		if err := t.tick(iter); err != nil {
			return err
		}
		r, worst := -1, feasTol
		for i, b := range t.basis {
			if v := t.lo[b] - t.x[b]; v > worst {
				r, worst = i, v
			}
			if v := t.x[b] - t.up[b]; v > worst {
				r, worst = i, v
			}
		}
		if r < 0 {
			return nil
		}
		b := t.basis[r]
		rise := t.x[b] < t.lo[b]
		target := t.up[b]
		if rise {
			target = t.lo[b]
		}

		row := t.tab.RawRowView(r)
		q, best, piv := -1, math.Inf(1), 0.0
		for j := 0; j < t.cols; j++ {
			if t.pos[j] >= 0 || t.up[j]-t.lo[j] <= feasTol {
				continue
			}
			a := row[j]
			if math.Abs(a) < pivotTol {
				continue
			}
			// x[b] moves by -a for every unit x[j] moves.
			var ok bool
			var dj float64
			if t.x[j] >= t.up[j]-feasTol {
				ok, dj = (a > 0) == rise, math.Max(-t.d[j], 0)
			} else {
				ok, dj = (a < 0) == rise, math.Max(t.d[j], 0)
			}
			if !ok {
				continue
			}
			ratio := dj / math.Abs(a)
			if ratio < best-tieTol || (ratio <= best+tieTol && math.Abs(a) > piv) {
				q, best, piv = j, ratio, math.Abs(a)
			}
		}
		if q < 0 {
			return lp.ErrInfeasible
		}
		t.move(q, (t.x[b]-target)/row[q])
		t.x[b] = target
		t.pivot(r, q)
	}
}

func (t *tableau) pivot(r, q int) {
	pr := t.tab.RawRowView(r)
	floats.Scale(1/pr[q], pr)
	pr[q] = 1
	for i := 0; i < t.rows; i++ {
		if i == r {
			continue
		}
		row := t.tab.RawRowView(i)
		if f := row[q]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[q] = 0
		}
	}
	if f := t.d[q]; f != 0 {
		floats.AddScaled(t.d, -f, pr[:t.cols])
		t.d[q] = 0
	}
	t.pos[t.basis[r]] = -1
	t.basis[r], t.pos[q] = q, r

	t.pivots++
	t.sinceRef++
	if t.sinceRef >= refactorEvery {
		t.refactor()
	}
}

// refactor rebuilds the tableau from the original rows and the current
// basis, dropping the error the row updates have accumulated.
func (t *tableau) refactor() {
	t.sinceRef = 0
	basis := mat.NewDense(t.rows, t.rows, nil)
	for i, b := range t.basis {
		for k := 0; k < t.rows; k++ {
			basis.Set(k, i, t.orig.At(k, b))
		}
	}
	var fresh mat.Dense
	if err := fresh.Solve(basis, t.orig); err != nil {
		logrus.WithError(err).Debug("basis refactor skipped")
		return
	}
	t.tab = &fresh
	t.price()
	t.recompute()
}
