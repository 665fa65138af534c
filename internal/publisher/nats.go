package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"fleetsim/internal/sim"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          conn
	raw         *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleetsim"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logrus.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logSubjects, m)
	p.raw = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	if prefix == "" {
		prefix = "fleetsim"
	}
	return &NATSPublisher{nc: c, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.raw != nil {
		p.raw.Drain()
		p.raw.Close()
	}
}

// BusEventMessage is one simulator event as published on the wire.
type BusEventMessage struct {
	RunID string `json:"runId"`
	BusID string `json:"busId"`
	sim.BusEvent
}

// SummaryMessage closes a run.
type SummaryMessage struct {
	RunID            string    `json:"runId"`
	Mode             string    `json:"mode"`
	Status           string    `json:"status"`
	Message          string    `json:"message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	PassengersTotal  int       `json:"passengersTotal"`
	PassengersServed float64   `json:"passengersServed"`
	AvgWaitMinutes   float64   `json:"avgWaitMinutes"`
	StillWaiting     int       `json:"stillWaiting"`
	DepotStatus      string    `json:"depotStatus,omitempty"`
	SolverStatus     string    `json:"solverStatus,omitempty"`
}

func (p *NATSPublisher) PublishBusEvent(runID, busID string, ev sim.BusEvent) error {
	subject := fmt.Sprintf("%s.%s.bus.%s", p.prefix, subjectToken(runID), subjectToken(busID))
	return p.publish(subject, BusEventMessage{RunID: runID, BusID: busID, BusEvent: ev})
}

func (p *NATSPublisher) PublishSummary(msg SummaryMessage) error {
	subject := fmt.Sprintf("%s.%s.summary", p.prefix, subjectToken(msg.RunID))
	return p.publish(subject, msg)
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		logrus.WithField("subject", subject).Debug("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
