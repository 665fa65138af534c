package runner

import (
	"fleetsim/internal/sim"
	"fleetsim/internal/transit"
)

type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// Result is the structured outcome of one pass. Failures never escape a
// pass as errors; they end up here with Status Failed.
type Result struct {
	RunID        string               `json:"runId"`
	Mode         string               `json:"mode"`
	Status       Status               `json:"status"`
	Message      string               `json:"message,omitempty"`
	Optimization *OptimizationDetails `json:"optimization_details,omitempty"`
	Simulation   *SimulationSummary   `json:"simulation,omitempty"`
	DepotReport  *sim.DepotReport     `json:"depot_report,omitempty"`

	sim *sim.Result
}

type OptimizationDetails struct {
	Message               string         `json:"message"`
	SolverStatus          string         `json:"solver_status"`
	TotalPassengersServed float64        `json:"total_passengers_served"`
	Schedule              []transit.Trip `json:"schedule"`
	SolverRuntimeMs       int64          `json:"solver_runtime_ms"`
	SolverIterations      int            `json:"solver_iterations"`
	TripsPersisted        int            `json:"trips_persisted"`
}

type SimulationSummary struct {
	Planner      string               `json:"planner"`
	TripsPlanned int                  `json:"trips_planned"`
	Start        int                  `json:"start_minute"`
	End          int                  `json:"end_minute"`
	FinalMinute  int                  `json:"final_minute"`
	Metrics      sim.PassengerMetrics `json:"metrics"`
	Total        int                  `json:"total_passengers"`
	StillWaiting int                  `json:"still_waiting"`
	StillOnboard int                  `json:"still_onboard"`
	StillPending int                  `json:"still_pending"`
	Stops        []sim.StopCounter    `json:"stops"`
}

// SimResult is the full simulator output, with per-bus event logs, or nil
// when the pass did not simulate.
func (r *Result) SimResult() *sim.Result { return r.sim }

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Message = err.Error()
	if r.Optimization != nil {
		r.Optimization.TotalPassengersServed = 0
	}
}

func summarize(planner string, trips int, res *sim.Result) *SimulationSummary {
	return &SimulationSummary{
		Planner:      planner,
		TripsPlanned: trips,
		Start:        res.Start,
		End:          res.End,
		FinalMinute:  res.FinalMinute,
		Metrics:      res.Metrics,
		Total:        res.Total,
		StillWaiting: res.StillWaiting,
		StillOnboard: res.StillOnboard,
		StillPending: res.StillPending,
		Stops:        res.Stops,
	}
}
