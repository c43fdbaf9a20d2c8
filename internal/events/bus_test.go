package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(nil)

	var got1, got2 []Event
	bus.Subscribe(func(evt Event) { got1 = append(got1, evt) })
	bus.Subscribe(func(evt Event) { got2 = append(got2, evt) })

	bus.Publish(Event{Type: TypeDepositLocked, ChainID: "ethereum", Payload: "p"})

	assert.Len(t, got1, 1)
	assert.Len(t, got2, 1)
	assert.Equal(t, TypeDepositLocked, got1[0].Type)
	assert.False(t, got1[0].Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)

	var got []Event
	unsubscribe := bus.Subscribe(func(evt Event) { got = append(got, evt) })

	bus.Publish(Event{Type: TypeRelayUpdate})
	unsubscribe()
	bus.Publish(Event{Type: TypeRelayUpdate})

	assert.Len(t, got, 1)
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(func(Event) { panic("boom") })
	var got []Event
	bus.Subscribe(func(evt Event) { got = append(got, evt) })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeTransactionUpdate})
	})
	assert.Len(t, got, 1)
}

type recordingForwarder struct {
	events []Event
}

func (f *recordingForwarder) Forward(evt Event) { f.events = append(f.events, evt) }

func TestForwarderReceivesEvents(t *testing.T) {
	bus := NewBus(nil)
	fwd := &recordingForwarder{}
	bus.AddForwarder(fwd)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: TypeDepositReleased, Timestamp: ts})

	assert.Len(t, fwd.events, 1)
	assert.Equal(t, ts, fwd.events[0].Timestamp)
}
