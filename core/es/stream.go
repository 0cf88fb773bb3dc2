package es

import (
	"fmt"
	"strings"
)

const (
	eventStreamPrefix    = "event"
	snapshotStreamPrefix = "snapshot"
)

// StreamNames derives the stream names for one kind of aggregate. Every
// aggregate has an event stream "event.<kind>.<id>" and a snapshot stream
// "snapshot.<kind>.<id>".
type StreamNames struct {
	Kind string
}

func (n StreamNames) Events(id string) string    { return eventStreamPrefix + "." + n.Kind + "." + id }
func (n StreamNames) Snapshots(id string) string { return snapshotStreamPrefix + "." + n.Kind + "." + id }

// EventsPrefix is the stream prefix matching every event stream of this kind.
func (n StreamNames) EventsPrefix() string { return eventStreamPrefix + "." + n.Kind + "." }

// AggregateID extracts the aggregate id from an event stream name.
func (n StreamNames) AggregateID(streamID string) (string, error) {
	id, ok := strings.CutPrefix(streamID, n.EventsPrefix())
	if !ok || id == "" {
		return "", fmt.Errorf("stream %q is not a %s event stream", streamID, n.Kind)
	}
	return id, nil
}
