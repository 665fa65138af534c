package sim

// Status is the state of a simulated bus.
type Status string

const (
	StatusAtDepot     Status = "AT_DEPOT"
	StatusDeadRunning Status = "DEAD_RUNNING"
	StatusWaiting     Status = "WAITING"
	StatusAtStop      Status = "AT_STOP"
	StatusEnRoute     Status = "EN_ROUTE"
	StatusCompleted   Status = "COMPLETED"
	StatusIdle        Status = "IDLE"
)

// BusEvent is one entry of a bus's chronological log. StopID is empty when
// the event is not tied to a stop.
type BusEvent struct {
	Time        int    `json:"time"`
	Description string `json:"description"`
	StopID      string `json:"stopId,omitempty"`
	Onboard     int    `json:"onboard"`
	Waiting     int    `json:"waiting"`
	Boarded     int    `json:"boarded"`
	Alighted    int    `json:"alighted"`
	Direction   string `json:"direction"`
	Status      Status `json:"status"`
}

// terminal reports whether the event records where a bus came to rest.
func (e BusEvent) terminal() bool {
	switch e.Status {
	case StatusAtDepot, StatusIdle, StatusCompleted:
		return e.StopID != ""
	}
	return false
}
