package sim

import (
	"fleetsim/internal/demand"
	"fleetsim/internal/transit"
)

// stopState is a stop with its waiting queue and cumulative counters.
type stopState struct {
	info    transit.Stop
	queue   []*demand.Passenger
	arrived int
	boarded int
	alight  int
}

func (s *stopState) enqueue(p *demand.Passenger) {
	s.queue = append(s.queue, p)
	s.arrived++
}

// board moves eligible passengers from the queue onto the bus, in queue
// order, until room runs out. Passengers left behind keep their relative
// order at the front of the queue.
func (s *stopState) board(room int, eligible func(*demand.Passenger) bool, minute int) []*demand.Passenger {
	if room <= 0 || len(s.queue) == 0 {
		return nil
	}
	var boarded []*demand.Passenger
	kept := s.queue[:0]
	for _, p := range s.queue {
		if room > 0 && eligible(p) {
			p.MarkBoarded(minute)
			boarded = append(boarded, p)
			room--
			continue
		}
		kept = append(kept, p)
	}
	// clear the tail so dropped pointers can be collected
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	s.boarded += len(boarded)
	return boarded
}

// StopCounter is the per-stop cumulative passenger tally of a run.
type StopCounter struct {
	StopID   string `json:"stopId"`
	Arrived  int    `json:"arrived"`
	Boarded  int    `json:"boarded"`
	Alighted int    `json:"alighted"`
	Waiting  int    `json:"waiting"`
}
