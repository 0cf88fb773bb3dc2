package es

import (
	"log/slog"
)

type (
	runnerOpts struct {
		mws     []HandlerMiddleware
		log     *slog.Logger
		metrics ESMetrics
	}

	RunnerOption interface {
		applyToRunnerOpts(*runnerOpts)
	}

	MiddlewareOption valueOption[[]HandlerMiddleware]
)

func (o MiddlewareOption) applyToRunnerOpts(opts *runnerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o LogOption) applyToRunnerOpts(opts *runnerOpts)       { opts.log = o.v }
func (o ESMetricsOption) applyToRunnerOpts(opts *runnerOpts) { opts.metrics = o.v }

// WithMiddlewares wraps the handler of a runner. The first middleware is the
// outermost.
func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}

func newRunnerOpts(opts ...RunnerOption) runnerOpts {
	options := runnerOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRunnerOpts(&options)
	}
	return options
}
