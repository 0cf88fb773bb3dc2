package es

import (
	"context"
	"log/slog"
	"time"
)

// MsgCtx carries one delivered record together with the subscription it came
// from.
type MsgCtx struct {
	ctx     context.Context
	log     *slog.Logger
	ev      RecordedEvent
	group   string
	attempt int
}

func NewMsgCtx(ctx context.Context, log *slog.Logger, group string, ev RecordedEvent, attempt int) MsgCtx {
	if log == nil {
		log = slog.Default()
	}
	return MsgCtx{ctx: ctx, log: log, ev: ev, group: group, attempt: attempt}
}

func (c MsgCtx) Context() context.Context { return c.ctx }
func (c MsgCtx) Log() *slog.Logger        { return c.log }
func (c MsgCtx) Event() RecordedEvent     { return c.ev }
func (c MsgCtx) Group() string            { return c.group }
func (c MsgCtx) Attempt() int             { return c.attempt }
func (c MsgCtx) StreamID() string         { return c.ev.StreamID }
func (c MsgCtx) Type() string             { return c.ev.Type }
func (c MsgCtx) Revision() Version        { return c.ev.Revision }

// WithContext returns a copy of c carrying ctx.
func (c MsgCtx) WithContext(ctx context.Context) MsgCtx {
	c.ctx = ctx
	return c
}

type (
	// Handler processes one record of a subscription. A returned error makes
	// the runner nack the record for redelivery.
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}
	HandleFunc           func(msgCtx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(msgCtx MsgCtx, next Handler) error
)

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === handler func ===

func (f HandleFunc) Handle(msgCtx MsgCtx) error { return f(msgCtx) }

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{
			next: next,
			mw:   mw,
		}
	}
}

// === log ===

func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) (err error) {
		handleAt := time.Now()

		log := msgCtx.Log().With(attrs...)

		err = next.Handle(msgCtx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === trace ===

// NewTraceMiddleware restores the trace context captured when the record was
// written, so work done by the handler joins the original trace.
func NewTraceMiddleware() HandlerMiddleware {
	return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) error {
		ctx := ExtractTraceContext(msgCtx.Context(), msgCtx.Event().Metadata)
		return next.Handle(msgCtx.WithContext(ctx))
	})
}
