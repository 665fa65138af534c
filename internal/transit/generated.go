package transit

import (
	"strings"

	"github.com/google/uuid"
)

// GeneratedPrefix tags every entity written by a planning run so that a
// later run can replace them without touching hand-maintained rows.
const GeneratedPrefix = "gen-"

// JourneyPattern ties a route to the service and line it is operated under.
type JourneyPattern struct {
	ID        string `json:"id"`
	RouteID   string `json:"routeId"`
	ServiceID string `json:"serviceId"`
	LineID    string `json:"lineId"`
}

// Block is the unit of work handed to one vehicle.
type Block struct {
	ID        string `json:"id"`
	ServiceID string `json:"serviceId"`
	BusID     string `json:"busId,omitempty"`
}

type Trip struct {
	ID               string `json:"id"`
	RouteID          string `json:"routeId"`
	JourneyPatternID string `json:"journeyPatternId"`
	BlockID          string `json:"blockId"`
	BusID            string `json:"busId,omitempty"` // empty when the fleet ran out
	DepartureMinute  int    `json:"departureMinute"`
}

// GeneratedSchedule is everything one run persists.
type GeneratedSchedule struct {
	JourneyPatterns []JourneyPattern `json:"journeyPatterns"`
	Blocks          []Block          `json:"blocks"`
	Trips           []Trip           `json:"trips"`
}

func IsGenerated(id string) bool { return strings.HasPrefix(id, GeneratedPrefix) }

// ScheduleBuilder assembles the generated entities of one service. Journey
// patterns are created on the first trip of each route; blocks are opened
// by the caller, so a block can hold one trip or a whole bus duty.
type ScheduleBuilder struct {
	serviceID string
	patterns  map[string]string // route -> journey pattern id
	out       GeneratedSchedule
}

func NewScheduleBuilder(serviceID string) *ScheduleBuilder {
	return &ScheduleBuilder{serviceID: serviceID, patterns: make(map[string]string)}
}

// Block opens a block for busID, which is empty when no bus is left.
func (b *ScheduleBuilder) Block(busID string) Block {
	blk := Block{ID: GeneratedPrefix + "blk-" + uuid.NewString(), ServiceID: b.serviceID, BusID: busID}
	b.out.Blocks = append(b.out.Blocks, blk)
	return blk
}

// Trip adds a departure of routeID to blk and returns it.
func (b *ScheduleBuilder) Trip(blk Block, routeID string, departure int) Trip {
	jp, ok := b.patterns[routeID]
	if !ok {
		jp = GeneratedPrefix + "jp-" + routeID
		b.patterns[routeID] = jp
		b.out.JourneyPatterns = append(b.out.JourneyPatterns, JourneyPattern{
			ID:        jp,
			RouteID:   routeID,
			ServiceID: b.serviceID,
			LineID:    routeID,
		})
	}
	t := Trip{
		ID:               GeneratedPrefix + "trip-" + uuid.NewString(),
		RouteID:          routeID,
		JourneyPatternID: jp,
		BlockID:          blk.ID,
		BusID:            blk.BusID,
		DepartureMinute:  departure,
	}
	b.out.Trips = append(b.out.Trips, t)
	return t
}

func (b *ScheduleBuilder) Schedule() GeneratedSchedule { return b.out }
