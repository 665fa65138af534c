package demand

// Passenger is one rider materialized from aggregate demand. Times are
// minutes from midnight; BoardMinute and AlightMinute stay nil until the
// simulator records the event.
type Passenger struct {
	ID            int    `json:"id"`
	Origin        string `json:"origin"`
	Dest          string `json:"dest"`
	ArrivalMinute int    `json:"arrivalMinute"`
	BoardMinute   *int   `json:"boardMinute,omitempty"`
	AlightMinute  *int   `json:"alightMinute,omitempty"`
}

func (p *Passenger) MarkBoarded(minute int) {
	m := minute
	p.BoardMinute = &m
}

func (p *Passenger) MarkAlighted(minute int) {
	m := minute
	p.AlightMinute = &m
}

// WaitTime is board - arrival.
func (p *Passenger) WaitTime() (int, bool) {
	if p.BoardMinute == nil {
		return 0, false
	}
	return *p.BoardMinute - p.ArrivalMinute, true
}

// TravelTime is alight - board.
func (p *Passenger) TravelTime() (int, bool) {
	if p.BoardMinute == nil || p.AlightMinute == nil {
		return 0, false
	}
	return *p.AlightMinute - *p.BoardMinute, true
}

// TotalTripTime is alight - arrival.
func (p *Passenger) TotalTripTime() (int, bool) {
	if p.AlightMinute == nil {
		return 0, false
	}
	return *p.AlightMinute - p.ArrivalMinute, true
}

// PassengerIDAllocator hands out monotonically increasing passenger ids.
// Each run owns its allocator, so ids restart at 1 per run.
type PassengerIDAllocator struct {
	last int
}

func (a *PassengerIDAllocator) Next() int {
	a.last++
	return a.last
}

func (a *PassengerIDAllocator) Reset() { a.last = 0 }
