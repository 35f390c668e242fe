// Package events publishes state changes to the frontend.
package events

import (
	"context"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Topics emitted by the services
const (
	CatalogLoaded     = "catalog:loaded"
	CatalogCollection = "catalog:collection"
	ExplorerChanged   = "explorer:changed"
	SelectionChanged  = "selection:changed"
	JobSubmitted      = "job:submitted"
	JobUpdated        = "job:updated"
	JobPatient        = "job:patient"
)

// Emitter publishes a payload on a topic
type Emitter interface {
	Emit(topic string, payload interface{})
}

// WailsEmitter forwards events to the Wails frontend runtime
type WailsEmitter struct {
	ctx context.Context
}

// NewWailsEmitter binds an emitter to the context passed to the Wails startup hook
func NewWailsEmitter(ctx context.Context) *WailsEmitter {
	return &WailsEmitter{ctx: ctx}
}

func (e *WailsEmitter) Emit(topic string, payload interface{}) {
	runtime.EventsEmit(e.ctx, topic, payload)
}

type discard struct{}

func (discard) Emit(string, interface{}) {}

// Discard drops every event
var Discard Emitter = discard{}

// Event is a recorded emission
type Event struct {
	Topic   string
	Payload interface{}
}

// Recorder keeps every emitted event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(topic string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events were recorded on a topic
func (r *Recorder) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}
