package demand

import (
	"sort"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/transit"
)

// SlotDemand is origin -> destination -> slot -> passengers.
type SlotDemand map[string]map[string]map[int]float64

// ODSlot is one flattened SlotDemand entry.
type ODSlot struct {
	Origin string
	Dest   string
	Slot   int
	Count  float64
}

// AggregateBySlot buckets demand into slots of slotLen minutes starting at
// horizonStart. Records below threshold, or starting outside the horizon,
// are left out entirely.
func AggregateBySlot(records []transit.StopDemand, horizonStart, slotLen, numSlots int, threshold float64) SlotDemand {
	out := make(SlotDemand)
	if slotLen <= 0 || numSlots <= 0 {
		return out
	}
	for _, d := range records {
		if d.Count <= 0 || d.Count < threshold {
			logrus.WithFields(logrus.Fields{"origin": d.Origin, "dest": d.Dest, "count": d.Count}).
				Debug("demand below threshold excluded")
			continue
		}
		if d.Origin == d.Dest || d.StartMinute < horizonStart {
			continue
		}
		slot := (d.StartMinute - horizonStart) / slotLen
		if slot >= numSlots {
			continue
		}
		byDest, ok := out[d.Origin]
		if !ok {
			byDest = make(map[string]map[int]float64)
			out[d.Origin] = byDest
		}
		bySlot, ok := byDest[d.Dest]
		if !ok {
			bySlot = make(map[int]float64)
			byDest[d.Dest] = bySlot
		}
		bySlot[slot] += d.Count
	}
	return out
}

// Flatten lists entries in origin, destination, slot order.
func (s SlotDemand) Flatten() []ODSlot {
	var out []ODSlot
	for o, byDest := range s {
		for d, bySlot := range byDest {
			for slot, c := range bySlot {
				out = append(out, ODSlot{Origin: o, Dest: d, Slot: slot, Count: c})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		if a.Dest != b.Dest {
			return a.Dest < b.Dest
		}
		return a.Slot < b.Slot
	})
	return out
}

func (s SlotDemand) Get(origin, dest string, slot int) float64 {
	return s[origin][dest][slot]
}
