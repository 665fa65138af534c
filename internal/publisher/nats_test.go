package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsim/internal/sim"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []sent
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{subject, data})
	return nil
}

type countingMetrics struct {
	ok, failed, observed int
}

func (m *countingMetrics) NATSPublishedInc()            { m.ok++ }
func (m *countingMetrics) NATSPublishErrInc()           { m.failed++ }
func (m *countingMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *countingMetrics) NATSSetConnected(bool)        {}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "bus_7", subjectToken(" bus.7 "))
	assert.Equal(t, "a_b_c_d", subjectToken("a*b>c/d"))
	assert.Equal(t, "_", subjectToken("  "))
}

func TestPublishBusEvent(t *testing.T) {
	fc := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(fc, "", false, m)

	ev := sim.BusEvent{Time: 42, Description: "arrived at S1", StopID: "S1", Onboard: 3, Status: sim.StatusAtStop}
	require.NoError(t, p.PublishBusEvent("run-1", "bus 9", ev))

	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "fleetsim.run-1.bus.bus_9", fc.msgs[0].subject)
	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &got))
	assert.Equal(t, "bus 9", got["busId"])
	assert.Equal(t, float64(42), got["time"])
	assert.Equal(t, "AT_STOP", got["status"])
	assert.Equal(t, 1, m.ok)
	assert.Equal(t, 1, m.observed)
}

func TestPublishSummaryCountsErrors(t *testing.T) {
	fc := &fakeConn{err: errors.New("no responders")}
	m := &countingMetrics{}
	p := newPublisher(fc, "city.sim", false, m)

	err := p.PublishSummary(SummaryMessage{RunID: "r", Mode: "simulate", Status: "Success"})
	require.Error(t, err)
	assert.Equal(t, 1, m.failed)
	assert.Zero(t, m.ok)
	assert.Equal(t, "city_sim", p.prefix)
}
