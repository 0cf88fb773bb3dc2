package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/inventory-es/core/es"
)

const (
	defaultStreamName    = "INVENTORY"
	defaultSubjectPrefix = "inventory"
	defaultReadTimeout   = 2 * time.Second

	headerStreamID = "x-stream-id"
	headerRevision = "x-revision"
	headerCount    = "x-event-count"

	// errCodeWrongLastSequence is returned by JetStream when an
	// expected-last-subject-sequence precondition does not hold.
	errCodeWrongLastSequence jetstream.ErrorCode = 10071

	// anyVersionAttempts bounds the re-reads of the head when appending with
	// es.AnyVersion races another writer.
	anyVersionAttempts = 5
)

// RetentionPolicy defines how messages are retained in the stream.
type RetentionPolicy int

const (
	// RetentionLimits keeps messages until MaxMsgs, MaxBytes or MaxAge is
	// reached. With no limit set the log is kept forever.
	RetentionLimits RetentionPolicy = iota
	// RetentionInterest keeps messages only while consumers have interest.
	RetentionInterest
)

func (r RetentionPolicy) toJetStream() jetstream.RetentionPolicy {
	if r == RetentionInterest {
		return jetstream.InterestPolicy
	}
	return jetstream.LimitsPolicy
}

type EventStoreConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string       // StreamName is the JetStream stream backing the log
	SubjectPrefix string       // SubjectPrefix is prepended to every stream name to form its subject
	ReadTimeout   time.Duration

	Retention RetentionPolicy
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
}

// EventStore is an es.EventStore on NATS JetStream. Every stream of the log
// maps to the subject "<prefix>.<stream>" of one JetStream stream; the
// stream sequence is the global position and the expected revision is
// enforced with the per-subject last sequence precondition.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	readTimeout   time.Duration
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}

	// 0 means unlimited for these in the store config, -1 in JetStream
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	maxMsgs := cfg.MaxMsgs
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: cfg.Retention.toJetStream(),
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  maxBytes,
		MaxMsgs:   maxMsgs,
		FirstSeq:  1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Uint64("msgs", streamInfo.State.Msgs), slog.Uint64("last_seq", streamInfo.State.LastSeq))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		readTimeout:   readTimeout,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

// AppendToStream publishes events as a single message guarded by the last
// sequence of the subject, so a batch is appended entirely or not at all.
// Every record of the batch shares the stream sequence of that message as
// its position.
func (e *EventStore) AppendToStream(
	ctx context.Context,
	stream string,
	expected es.Version,
	events []es.EventData,
) (es.AppendResult, error) {
	if len(events) == 0 {
		return es.AppendResult{}, es.ErrStoreNoEvents
	}
	subject, err := e.subject(stream)
	if err != nil {
		return es.AppendResult{}, err
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return es.AppendResult{}, fmt.Errorf("failed to validate event: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		res, err := e.appendOnce(ctx, stream, subject, expected, events)
		if expected == es.AnyVersion && errors.Is(err, es.ErrWrongExpectedVersion) && attempt < anyVersionAttempts {
			continue
		}
		return res, err
	}
}

func (e *EventStore) appendOnce(
	ctx context.Context,
	stream, subject string,
	expected es.Version,
	events []es.EventData,
) (es.AppendResult, error) {
	head, lastSeq, err := e.head(ctx, subject)
	if err != nil {
		return es.AppendResult{}, fmt.Errorf("failed to read head of %s: %w", stream, err)
	}
	if !es.ExpectedVersionMatches(expected, head) {
		return es.AppendResult{}, fmt.Errorf("%w: %s expected %s, head %s", es.ErrWrongExpectedVersion, stream, expected, head)
	}

	msg, err := e.encodeMsg(subject, stream, head+1, events)
	if err != nil {
		return es.AppendResult{}, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(events[0].ID),
		jetstream.WithExpectStream(e.streamName),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		if isWrongLastSequence(err) {
			return es.AppendResult{}, fmt.Errorf("%w: %s changed while appending", es.ErrWrongExpectedVersion, stream)
		}
		return es.AppendResult{}, fmt.Errorf("failed to append to subject %s: %w", subject, err)
	}
	if ack.Duplicate {
		return es.AppendResult{}, fmt.Errorf("%w: event %s already appended", es.ErrWrongExpectedVersion, events[0].ID)
	}

	head += es.Version(len(events))

	e.log.Debug(
		"append",
		slog.String("stream", stream),
		head.SlogAttrWithKey("head"),
		slog.Int("num_events", len(events)),
		slog.Uint64("seq", ack.Sequence),
	)

	return es.AppendResult{NextExpectedVersion: head, Position: ack.Sequence}, nil
}

func (e *EventStore) ReadStream(ctx context.Context, stream string, opts es.ReadOptions) iter.Seq2[es.RecordedEvent, error] {
	return func(yield func(es.RecordedEvent, error) bool) {
		subject, err := e.subject(stream)
		if err != nil {
			yield(es.RecordedEvent{}, err)
			return
		}

		last, err := e.stream.GetLastMsgForSubject(ctx, subject)
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgNotFound) {
				err = fmt.Errorf("%w: %s", es.ErrStreamNotFound, stream)
			}
			yield(es.RecordedEvent{}, err)
			return
		}

		if opts.Direction == es.Backwards {
			e.readBackwards(ctx, stream, subject, last, opts, yield)
			return
		}

		head, err := revisionFromHeader(last.Header)
		if err != nil {
			yield(es.RecordedEvent{}, fmt.Errorf("message %d on %s: %w", last.Sequence, subject, err))
			return
		}
		if opts.From > head {
			return
		}

		startSeq := opts.Position
		if startSeq > last.Sequence {
			startSeq = 0
		}

		n := 0
		for rec, err := range e.readForwards(ctx, subject, startSeq, last.Sequence) {
			if err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}
			if rec.Revision < opts.From {
				continue
			}
			n++
			if !yield(rec, nil) || (opts.MaxCount > 0 && n >= opts.MaxCount) {
				return
			}
		}
	}
}

func (e *EventStore) readBackwards(
	ctx context.Context,
	stream, subject string,
	last *jetstream.RawStreamMsg,
	opts es.ReadOptions,
	yield func(es.RecordedEvent, error) bool,
) {
	tail, err := e.decode(last.Subject, last.Sequence, last.Time, last.Data)
	if err != nil {
		yield(es.RecordedEvent{}, err)
		return
	}
	if head := tail[len(tail)-1]; opts.MaxCount == 1 && opts.From >= head.Revision {
		yield(head, nil)
		return
	}

	var records []es.RecordedEvent
	for rec, err := range e.readForwards(ctx, subject, 0, last.Sequence) {
		if err != nil {
			yield(es.RecordedEvent{}, err)
			return
		}
		if rec.Revision <= opts.From {
			records = append(records, rec)
		}
	}
	slices.Reverse(records)
	for i, rec := range records {
		if !yield(rec, nil) || (opts.MaxCount > 0 && i+1 >= opts.MaxCount) {
			return
		}
	}
	e.log.Debug("read backwards", slog.String("stream", stream), slog.Int("num_events", len(records)))
}

// readerConfig is the ordered consumer reading subject from startSeq on, or
// from its first message when startSeq is 0.
func readerConfig(subject string, startSeq uint64) jetstream.OrderedConsumerConfig {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if startSeq > 1 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = startSeq
	}
	return cfg
}

// readForwards reads subject with an ephemeral ordered consumer from
// startSeq up to and including endSeq.
func (e *EventStore) readForwards(ctx context.Context, subject string, startSeq, endSeq uint64) iter.Seq2[es.RecordedEvent, error] {
	return func(yield func(es.RecordedEvent, error) bool) {
		cc, err := e.stream.OrderedConsumer(ctx, readerConfig(subject, startSeq))
		if err != nil {
			yield(es.RecordedEvent{}, fmt.Errorf("failed to create reader for %s: %w", subject, err))
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}

			mb, err := cc.Fetch(100, jetstream.FetchMaxWait(e.readTimeout))
			if err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}

			empty := true
			for msg := range mb.Messages() {
				empty = false
				md, err := msg.Metadata()
				if err != nil {
					yield(es.RecordedEvent{}, err)
					return
				}
				recs, err := e.decode(msg.Subject(), md.Sequence.Stream, md.Timestamp, msg.Data())
				if err != nil {
					yield(es.RecordedEvent{}, err)
					return
				}
				for _, rec := range recs {
					if !yield(rec, nil) {
						return
					}
				}
				if md.Sequence.Stream >= endSeq {
					return
				}
			}
			if err := mb.Error(); err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}
			if empty {
				yield(es.RecordedEvent{}, fmt.Errorf("timed out reading %s up to sequence %d", subject, endSeq))
				return
			}
		}
	}
}

// head returns the revision and stream sequence of the last message on
// subject, es.NoStream and 0 when there is none.
func (e *EventStore) head(ctx context.Context, subject string) (es.Version, uint64, error) {
	last, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return es.NoStream, 0, nil
		}
		return 0, 0, err
	}
	rev, err := revisionFromHeader(last.Header)
	if err != nil {
		return 0, 0, fmt.Errorf("message %d on %s: %w", last.Sequence, subject, err)
	}
	return rev, last.Sequence, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeWrongLastSequence
}

var _ es.EventStore = (*EventStore)(nil)

// --- encoding ---

// record is one event in the body of a message. A message carries the
// records of one append in revision order.
type record struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Revision es.Version        `json:"revision"`
	Data     json.RawMessage   `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// subject maps a stream name to its subject. Stream names are dot
// separated tokens and must not contain wildcards or whitespace.
func (e *EventStore) subject(stream string) (string, error) {
	if err := validateStreamName(stream); err != nil {
		return "", err
	}
	return e.subjectPrefix + "." + stream, nil
}

// filterSubject is the subject filter matching every stream starting with
// streamPrefix.
func (e *EventStore) filterSubject(streamPrefix string) (string, error) {
	trimmed := strings.TrimSuffix(streamPrefix, ".")
	if err := validateStreamName(trimmed); err != nil {
		return "", err
	}
	return e.subjectPrefix + "." + trimmed + ".>", nil
}

func (e *EventStore) streamID(subject string) string {
	return strings.TrimPrefix(subject, e.subjectPrefix+".")
}

func validateStreamName(stream string) error {
	if stream == "" {
		return errors.New("stream name is empty")
	}
	if strings.ContainsAny(stream, "*> \t\r\n") || strings.HasPrefix(stream, ".") || strings.HasSuffix(stream, ".") || strings.Contains(stream, "..") {
		return fmt.Errorf("invalid stream name %q", stream)
	}
	return nil
}

// encodeMsg builds the message of one append. first is the revision of
// the first event; the revision header holds the revision of the last.
func (e *EventStore) encodeMsg(subject, stream string, first es.Version, events []es.EventData) (*natsgo.Msg, error) {
	records := make([]record, len(events))
	for i, ev := range events {
		records[i] = record{
			ID:       ev.ID,
			Type:     ev.Type,
			Revision: first + es.Version(i),
			Data:     ev.Data,
			Metadata: ev.Metadata,
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerStreamID, stream)
	msg.Header.Set(headerRevision, strconv.FormatInt(int64(records[len(records)-1].Revision), 10))
	msg.Header.Set(headerCount, strconv.Itoa(len(records)))
	msg.Data = data
	return msg, nil
}

func (e *EventStore) decode(subject string, seq uint64, at time.Time, data []byte) ([]es.RecordedEvent, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode message %d on %s: %w", seq, subject, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("message %d on %s has no records", seq, subject)
	}
	out := make([]es.RecordedEvent, len(records))
	for i, r := range records {
		out[i] = es.RecordedEvent{
			ID:        r.ID,
			StreamID:  e.streamID(subject),
			Type:      r.Type,
			Revision:  r.Revision,
			Position:  seq,
			CreatedAt: at.UTC(),
			Data:      r.Data,
			Metadata:  r.Metadata,
		}
	}
	return out, nil
}

func revisionFromHeader(h natsgo.Header) (es.Version, error) {
	v := h.Get(headerRevision)
	if v == "" {
		return 0, errors.New("missing revision header")
	}
	rev, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision header %q: %w", v, err)
	}
	return es.Version(rev), nil
}
