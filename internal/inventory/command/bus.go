// Package command routes inventory commands to exactly one handler each.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/inventory-es/core/es"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateHandler = errors.New("command handler already registered")
	ErrInvalidCommand   = errors.New("invalid command")
)

// Command is a request to change one inventory item.
type Command interface {
	CommandType() string
}

// Result is what a successful command leaves behind: the affected item and
// the revision it is now at.
type Result struct {
	ID       string     `json:"id"`
	Revision es.Version `json:"revision"`
}

type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

// Typed adapts a handler of one concrete command type.
func Typed[C Command](fn func(ctx context.Context, cmd C) (Result, error)) HandlerFunc {
	return func(ctx context.Context, cmd Command) (Result, error) {
		c, ok := cmd.(C)
		if !ok {
			return Result{}, fmt.Errorf("%w: got %T", ErrInvalidCommand, cmd)
		}
		return fn(ctx, c)
	}
}

type Bus struct {
	mu       sync.RWMutex
	log      *slog.Logger
	handlers map[string]HandlerFunc
	tracer   trace.Tracer
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log.With(slog.String("component", "command-bus")),
		handlers: map[string]HandlerFunc{},
		tracer:   otel.Tracer("github.com/codewandler/inventory-es/command"),
	}
}

func (b *Bus) Register(commandType string, h HandlerFunc) error {
	if commandType == "" || h == nil {
		return fmt.Errorf("%w: empty registration", ErrInvalidCommand)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[commandType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, commandType)
	}
	b.handlers[commandType] = h
	return nil
}

func (b *Bus) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if cmd == nil {
		return Result{}, fmt.Errorf("%w: nil", ErrInvalidCommand)
	}
	commandType := cmd.CommandType()

	b.mu.RLock()
	h, ok := b.handlers[commandType]
	b.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, commandType)
	}

	ctx, span := b.tracer.Start(ctx, "command "+commandType,
		trace.WithAttributes(attribute.String("command.type", commandType)),
	)
	defer span.End()

	res, err := h(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.log.Debug("command rejected", slog.String("type", commandType), slog.Any("error", err))
		return Result{}, err
	}

	span.SetAttributes(attribute.String("agg.id", res.ID), attribute.Int64("agg.version", int64(res.Revision)))
	b.log.Debug(
		"command handled",
		slog.String("type", commandType),
		slog.Group("agg", slog.String("id", res.ID), res.Revision.SlogAttr()),
	)
	return res, nil
}
