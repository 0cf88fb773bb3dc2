package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff is the delay schedule between attempts of a failing message.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff doubles from 100ms up to 10s.
var DefaultBackoff = Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Min
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// HandleWithRetry calls h until it succeeds, ctx is done, or h reports a
// poison message. Blocking on a failing message keeps the order of the
// partition intact.
func HandleWithRetry(ctx context.Context, log *slog.Logger, h Handler, msg Message, backoff Backoff, m Metrics) error {
	for attempt := 1; ; attempt++ {
		timer := m.HandleDuration(msg.Topic)
		err := h(ctx, msg)
		timer.ObserveDuration()
		m.Handled(msg.Topic, err == nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoison) {
			return err
		}

		wait := backoff.delay(attempt)
		log.Warn(
			"handle_failed",
			slog.String("err", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
