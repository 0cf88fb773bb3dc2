package es

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Event is a decoded domain event. EventType is the tag it is stored under.
type Event interface {
	EventType() string
}

// DecodeFunc turns the payload of a stored record into a typed event.
type DecodeFunc func(data json.RawMessage) (Event, error)

// Registry maps event type tags to decode functions so persisted records can
// be turned back into events.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: map[string]DecodeFunc{}}
}

func (r *Registry) Register(eventType string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[eventType] = decode
}

// Types returns the registered type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		types = append(types, t)
	}
	return types
}

// Decode decodes a record by its declared type.
func (r *Registry) Decode(rec RecordedEvent) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[rec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, rec.Type)
	}
	if len(rec.Data) == 0 || bytes.Equal(rec.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: %s at %s@%d", ErrMissingEventData, rec.Type, rec.StreamID, rec.Revision)
	}
	ev, err := decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s at %s@%d: %w", rec.Type, rec.StreamID, rec.Revision, err)
	}
	return ev, nil
}

// Encode serializes ev into a record ready for appending. The event type must
// be registered so that whatever is written can be read back.
func (r *Registry) Encode(ev Event, metadata map[string]string) (EventData, error) {
	eventType := ev.EventType()
	r.mu.RLock()
	_, ok := r.decoders[eventType]
	r.mu.RUnlock()
	if !ok {
		return EventData{}, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return EventData{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return EventData{
		ID:       newRecordID(),
		Type:     eventType,
		Data:     data,
		Metadata: metadata,
	}, nil
}

// JSON returns a DecodeFunc that unmarshals into a fresh T.
func JSON[T Event]() DecodeFunc {
	return func(data json.RawMessage) (Event, error) {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}

// RegisterJSON registers T under the tag returned by its EventType method.
func RegisterJSON[T Event](r *Registry) {
	var zero T
	r.Register(zero.EventType(), JSON[T]())
}

func newRecordID() string { return gonanoid.Must() }
