package transit

import "math"

type Stop struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Lat    float64 `json:"lat" yaml:"lat"`
	Lon    float64 `json:"lon" yaml:"lon"`
	HasLoc bool    `json:"hasLoc" yaml:"has_loc"` // false when coordinates are missing in the source
	AreaID string  `json:"areaId" yaml:"area_id"` // parent stop-area, may be empty
}

// Route is an ordered stop sequence operated in one direction.
type Route struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	StopIDs      []string `json:"stopIds" yaml:"stops"`
	TotalMinutes float64  `json:"totalMinutes" yaml:"total_minutes"`
}

// SegmentMinutes is the whole-minute traversal time between consecutive
// stops, never less than one.
func (r *Route) SegmentMinutes() int {
	if len(r.StopIDs) < 2 {
		return 0
	}
	seg := int(math.Round(r.TotalMinutes / float64(len(r.StopIDs)-1)))
	if seg < 1 {
		seg = 1
	}
	return seg
}

// DurationMinutes is the first-to-last stop traversal time in whole minutes.
func (r *Route) DurationMinutes() int {
	return r.SegmentMinutes() * (len(r.StopIDs) - 1)
}

func (r *Route) FirstStop() string { return r.StopIDs[0] }
func (r *Route) LastStop() string  { return r.StopIDs[len(r.StopIDs)-1] }

// IndexOf returns the first position of stopID at or after from, or -1.
func (r *Route) IndexOf(stopID string, from int) int {
	for i := from; i < len(r.StopIDs); i++ {
		if r.StopIDs[i] == stopID {
			return i
		}
	}
	return -1
}

// Serves reports whether the route visits origin and later dest.
func (r *Route) Serves(origin, dest string) bool {
	i := r.IndexOf(origin, 0)
	if i < 0 {
		return false
	}
	return r.IndexOf(dest, i+1) > 0
}

type BusType struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// Bus is a fleet record.
type Bus struct {
	ID          string `json:"id" yaml:"id"`
	TypeID      string `json:"typeId" yaml:"type"`
	DepotStopID string `json:"depotStopId" yaml:"depot"`
	Operator    string `json:"operator" yaml:"operator"`
}

// DemandRecord is aggregate demand between two stop-areas over a time
// window expressed in minutes from midnight.
type DemandRecord struct {
	OriginAreaID string  `json:"originAreaId" yaml:"origin"`
	DestAreaID   string  `json:"destAreaId" yaml:"dest"`
	Count        float64 `json:"count" yaml:"count"`
	StartMinute  int     `json:"startMinute" yaml:"start"`
	EndMinute    int     `json:"endMinute" yaml:"end"`
}

// StopDemand is a DemandRecord resolved to representative stop points.
type StopDemand struct {
	Origin      string
	Dest        string
	Count       float64
	StartMinute int
	EndMinute   int
}

// Snapshot is the read-only set of entities loaded from a repository.
type Snapshot struct {
	Stops    []Stop         `json:"stops" yaml:"stops"`
	Routes   []Route        `json:"routes" yaml:"routes"`
	BusTypes []BusType      `json:"busTypes" yaml:"bus_types"`
	Buses    []Bus          `json:"buses" yaml:"buses"`
	Demand   []DemandRecord `json:"demand" yaml:"demand"`
}
