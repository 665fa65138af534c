package transit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoStops    = errors.New("network has no stops")
	ErrNoBusTypes = errors.New("network has no bus types")
	ErrNoBuses    = errors.New("network has no buses")
	ErrNoRoutes   = errors.New("network has no routes")
)

// Network is the immutable, indexed form of a Snapshot. Entities live in
// dense slices; the maps resolve external ids to slice positions. Engines
// never mutate a Network, so one value may back any number of runs.
type Network struct {
	Stops    []Stop
	Routes   []Route
	BusTypes []BusType
	Buses    []Bus
	Demand   []StopDemand

	stopIdx    map[string]int
	routeIdx   map[string]int
	busTypeIdx map[string]int
	busIdx     map[string]int
}

// Build validates a snapshot and indexes it. Empty stop, bus type, bus or
// route tables are fatal. Individual records with dangling references are
// dropped with a warning.
func Build(s *Snapshot) (*Network, error) {
	if s == nil || len(s.Stops) == 0 {
		return nil, ErrNoStops
	}
	if len(s.BusTypes) == 0 {
		return nil, ErrNoBusTypes
	}
	if len(s.Buses) == 0 {
		return nil, ErrNoBuses
	}
	if len(s.Routes) == 0 {
		return nil, ErrNoRoutes
	}

	n := &Network{
		stopIdx:    make(map[string]int, len(s.Stops)),
		routeIdx:   make(map[string]int, len(s.Routes)),
		busTypeIdx: make(map[string]int, len(s.BusTypes)),
		busIdx:     make(map[string]int, len(s.Buses)),
	}
	for _, st := range s.Stops {
		if _, dup := n.stopIdx[st.ID]; dup {
			logrus.WithField("stop", st.ID).Warn("duplicate stop id ignored")
			continue
		}
		n.stopIdx[st.ID] = len(n.Stops)
		n.Stops = append(n.Stops, st)
	}
	for _, bt := range s.BusTypes {
		if _, dup := n.busTypeIdx[bt.ID]; dup {
			logrus.WithField("bus_type", bt.ID).Warn("duplicate bus type id ignored")
			continue
		}
		n.busTypeIdx[bt.ID] = len(n.BusTypes)
		n.BusTypes = append(n.BusTypes, bt)
	}

	for _, r := range s.Routes {
		if len(r.StopIDs) < 2 {
			logrus.WithField("route", r.ID).Warn("route has fewer than 2 stops, excluded")
			continue
		}
		if missing := n.firstUnknownStop(r.StopIDs); missing != "" {
			logrus.WithFields(logrus.Fields{"route": r.ID, "stop": missing}).Warn("route references unknown stop, excluded")
			continue
		}
		if _, dup := n.routeIdx[r.ID]; dup {
			logrus.WithField("route", r.ID).Warn("duplicate route id ignored")
			continue
		}
		r.StopIDs = append([]string(nil), r.StopIDs...)
		n.routeIdx[r.ID] = len(n.Routes)
		n.Routes = append(n.Routes, r)
	}

	// Buses are kept sorted by id so every engine iterates them in the same order.
	buses := append([]Bus(nil), s.Buses...)
	sort.SliceStable(buses, func(i, j int) bool { return buses[i].ID < buses[j].ID })
	for _, b := range buses {
		log := logrus.WithField("bus", b.ID)
		if _, ok := n.busTypeIdx[b.TypeID]; !ok {
			log.WithField("bus_type", b.TypeID).Warn("bus references unknown bus type, skipped")
			continue
		}
		if _, ok := n.stopIdx[b.DepotStopID]; !ok {
			log.WithField("stop", b.DepotStopID).Warn("bus references unknown depot stop, skipped")
			continue
		}
		if _, dup := n.busIdx[b.ID]; dup {
			log.Warn("duplicate bus id ignored")
			continue
		}
		n.busIdx[b.ID] = len(n.Buses)
		n.Buses = append(n.Buses, b)
	}

	areaStop := n.representativeStops()
	for _, d := range s.Demand {
		origin, ok := areaStop[d.OriginAreaID]
		if !ok {
			logrus.WithField("area", d.OriginAreaID).Warn("demand origin area has no stop point, skipped")
			continue
		}
		dest, ok := areaStop[d.DestAreaID]
		if !ok {
			logrus.WithField("area", d.DestAreaID).Warn("demand destination area has no stop point, skipped")
			continue
		}
		n.Demand = append(n.Demand, StopDemand{
			Origin:      origin,
			Dest:        dest,
			Count:       d.Count,
			StartMinute: d.StartMinute,
			EndMinute:   d.EndMinute,
		})
	}
	return n, nil
}

func (n *Network) firstUnknownStop(ids []string) string {
	for _, id := range ids {
		if _, ok := n.stopIdx[id]; !ok {
			return id
		}
	}
	return ""
}

// representativeStops maps every stop-area to the first stop point found in
// it. A stop id with no area entry of its own stands for itself.
func (n *Network) representativeStops() map[string]string {
	m := make(map[string]string, len(n.Stops))
	for _, st := range n.Stops {
		if st.AreaID == "" {
			continue
		}
		if _, seen := m[st.AreaID]; !seen {
			m[st.AreaID] = st.ID
		}
	}
	for _, st := range n.Stops {
		if _, seen := m[st.ID]; !seen {
			m[st.ID] = st.ID
		}
	}
	return m
}

func (n *Network) StopIndex(id string) (int, bool) {
	i, ok := n.stopIdx[id]
	return i, ok
}

func (n *Network) Stop(id string) (Stop, bool) {
	i, ok := n.stopIdx[id]
	if !ok {
		return Stop{}, false
	}
	return n.Stops[i], true
}

func (n *Network) Route(id string) (*Route, bool) {
	i, ok := n.routeIdx[id]
	if !ok {
		return nil, false
	}
	return &n.Routes[i], true
}

func (n *Network) BusType(id string) (BusType, bool) {
	i, ok := n.busTypeIdx[id]
	if !ok {
		return BusType{}, false
	}
	return n.BusTypes[i], true
}

func (n *Network) Bus(id string) (Bus, bool) {
	i, ok := n.busIdx[id]
	if !ok {
		return Bus{}, false
	}
	return n.Buses[i], true
}

// Capacity returns the nominal capacity of a bus via its type.
func (n *Network) Capacity(b Bus) (int, bool) {
	bt, ok := n.BusType(b.TypeID)
	if !ok {
		return 0, false
	}
	return bt.Capacity, true
}

// RoutesFrom lists routes whose first stop is stopID, in declaration order.
func (n *Network) RoutesFrom(stopID string) []*Route {
	var out []*Route
	for i := range n.Routes {
		if n.Routes[i].FirstStop() == stopID {
			out = append(out, &n.Routes[i])
		}
	}
	return out
}

// FleetByType groups buses by bus type id, preserving declaration order.
func (n *Network) FleetByType() map[string][]Bus {
	out := make(map[string][]Bus, len(n.BusTypes))
	for _, b := range n.Buses {
		out[b.TypeID] = append(out[b.TypeID], b)
	}
	return out
}

func (n *Network) String() string {
	return fmt.Sprintf("network{stops=%d routes=%d bus_types=%d buses=%d demand=%d}",
		len(n.Stops), len(n.Routes), len(n.BusTypes), len(n.Buses), len(n.Demand))
}
