package es

import (
	"log/slog"
	"strconv"
)

// Version is the revision of an event within its stream. Revisions start at
// 0. Used as an expected version it names the revision the stream head must
// be at for an append to succeed.
type Version int64

const (
	// NoStream is the expected version of a stream that must not exist yet.
	// It is also the version of an aggregate that has applied nothing.
	NoStream Version = -1
	// AnyVersion skips the concurrency check on append.
	AnyVersion Version = -2
)

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }

func (v Version) String() string {
	switch v {
	case NoStream:
		return "no_stream"
	case AnyVersion:
		return "any"
	}
	return strconv.FormatInt(int64(v), 10)
}
