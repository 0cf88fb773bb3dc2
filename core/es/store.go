package es

import (
	"context"
	"errors"
	"iter"
	"math"
)

var (
	ErrWrongExpectedVersion = errors.New("wrong expected version")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrStoreNoEvents        = errors.New("no events to store")
)

// Direction is the order in which a stream is read.
type Direction int

const (
	Forwards Direction = iota
	Backwards
)

// Start and End are read positions. Reading backwards from End yields the
// newest record first.
const (
	Start Version = 0
	End   Version = math.MaxInt64
)

type (
	// ReadOptions bound a stream read. From is inclusive. A MaxCount of zero
	// reads to the end of the stream.
	//
	// Position is an optional hint for forward reads: the log position of a
	// record of the same stream with a revision below From. A store may start
	// scanning there instead of at the beginning of the stream.
	ReadOptions struct {
		From      Version
		Direction Direction
		MaxCount  int
		Position  uint64
	}

	// AppendResult reports the stream head after a successful append.
	AppendResult struct {
		NextExpectedVersion Version
		Position            uint64
	}

	// EventStore is the log collaborator. Each stream is totally ordered and
	// appends are atomic and conditional.
	EventStore interface {
		// AppendToStream appends events if the stream head is at expected
		// (NoStream: the stream must not exist, AnyVersion: no check). It
		// fails with ErrWrongExpectedVersion when the precondition does not
		// hold.
		AppendToStream(ctx context.Context, stream string, expected Version, events []EventData) (AppendResult, error)
		// ReadStream lazily reads records of one stream. A stream without any
		// records yields ErrStreamNotFound.
		ReadStream(ctx context.Context, stream string, opts ReadOptions) iter.Seq2[RecordedEvent, error]
	}
)

// ReadForwards reads stream from revision from to its end.
func ReadForwards(from Version) ReadOptions { return ReadOptions{From: from, Direction: Forwards} }

// ReadLast reads the newest record of a stream only.
func ReadLast() ReadOptions { return ReadOptions{From: End, Direction: Backwards, MaxCount: 1} }

// ExpectedVersionMatches tests expected against the current head of a
// stream, where head is NoStream when the stream does not exist.
func ExpectedVersionMatches(expected, head Version) bool {
	return expected == AnyVersion || expected == head
}
