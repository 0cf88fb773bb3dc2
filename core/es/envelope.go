package es

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// EventData is an event ready to be appended to a stream.
type EventData struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Data     json.RawMessage   `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (e EventData) Validate() error {
	if e.ID == "" {
		return errors.New("event id is empty")
	}
	if e.Type == "" {
		return errors.New("event type is empty")
	}
	if len(e.Data) == 0 {
		return errors.New("event data is empty")
	}
	return nil
}

// RecordedEvent is an event as read back from the log.
type RecordedEvent struct {
	ID        string            `json:"id"`
	StreamID  string            `json:"stream_id"`
	Type      string            `json:"type"`
	Revision  Version           `json:"revision"` // Revision is the 0-based position within the stream
	Position  uint64            `json:"position"` // Position is the global log position
	CreatedAt time.Time         `json:"created_at"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (r RecordedEvent) SlogAttr() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", r.ID),
		slog.String("stream", r.StreamID),
		slog.String("type", r.Type),
		r.Revision.SlogAttrWithKey("revision"),
		slog.Uint64("position", r.Position),
	)
}
