package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus()
	var gotA, gotB *Event
	bus.Subscribe(TriggerFired, func(e *Event) { gotA = e })
	bus.Subscribe(TriggerFired, func(e *Event) { gotB = e })

	data := &TriggerFiredData{TriggerID: 7, UserID: 1, Kind: "alert"}
	bus.Emit(&Event{Type: TriggerFired, Module: "trigger", Data: data})

	require.NotNil(t, gotA)
	require.NotNil(t, gotB)
	assert.Equal(t, data, gotA.Data)
	assert.Equal(t, data, gotB.Data)
}

func TestBus_EmitIgnoresEventTypesWithNoSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TriggerFired, func(e *Event) { t.Fatal("should not be called") })
	bus.Emit(&Event{Type: TradeDetected, Data: &TradeDetectedData{}})
}

func TestManager_EmitTypedPublishesThroughBus(t *testing.T) {
	bus := NewBus()
	var got *Event
	bus.Subscribe(PatrolCompleted, func(e *Event) { got = e })

	m := NewManager(bus, zerolog.Nop())
	m.EmitTyped("patrol", &PatrolCompletedData{UserID: 1, AnomaliesFound: 2})

	require.NotNil(t, got)
	assert.Equal(t, "patrol", got.Module)
	data, ok := got.Data.(*PatrolCompletedData)
	require.True(t, ok)
	assert.Equal(t, 2, data.AnomaliesFound)
}

func TestManager_NilManagerIsANoOp(t *testing.T) {
	var m *Manager
	m.EmitTyped("patrol", &PatrolCompletedData{UserID: 1})
	m.EmitError("patrol", assertError{}, nil)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
