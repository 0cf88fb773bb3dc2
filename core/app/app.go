package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// RunFunc blocks until ctx is done or the component fails. Returning nil
// after ctx is done is a clean stop.
type RunFunc func(ctx context.Context) error

type Config struct {
	Context context.Context
	Log     *slog.Logger
	Name    string

	// ShutdownTimeout bounds both the drain of the running components and
	// the close of the resources.
	ShutdownTimeout time.Duration

	// MetricsAddr, when set, serves Gatherer on /metrics.
	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

type (
	component struct {
		name string
		run  RunFunc
	}

	closer struct {
		name  string
		close func() error
	}
)

// App runs the components of one process and tears it down in order: the
// components are cancelled and drained first, then the resources are closed
// in the order they were registered.
type App struct {
	ctx        context.Context
	cancelCtx  context.CancelFunc
	log        *slog.Logger
	timeout    time.Duration
	components []component
	closers    []closer
	started    bool
}

func New(config Config) *App {
	if config.Context == nil {
		config.Context = context.Background()
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	if config.Name == "" {
		config.Name = fmt.Sprintf("app-%s", gonanoid.Must(6))
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	a := &App{
		log:     config.Log.With(slog.String("app", config.Name)),
		timeout: config.ShutdownTimeout,
	}
	a.ctx, a.cancelCtx = context.WithCancel(config.Context)

	if config.MetricsAddr != "" {
		g := config.Gatherer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
		a.Go("metrics", HTTPServer(&http.Server{Addr: config.MetricsAddr, Handler: mux}, config.ShutdownTimeout))
	}

	return a
}

func (a *App) Log() *slog.Logger { return a.log }

// Go registers a component. Components start together in Run.
func (a *App) Go(name string, run RunFunc) {
	a.components = append(a.components, component{name: name, run: run})
}

// OnClose registers a resource to close after every component stopped.
func (a *App) OnClose(name string, close func() error) {
	a.closers = append(a.closers, closer{name: name, close: close})
}

// Run blocks until the parent context is done or a component fails, then
// shuts down. It returns the first component error.
func (a *App) Run() error {
	if a.started {
		return errors.New("app already started")
	}
	a.started = true

	g, ctx := errgroup.WithContext(a.ctx)
	for _, c := range a.components {
		g.Go(func() error {
			err := c.run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("component failed", slog.String("component", c.name), slog.Any("error", err))
				return fmt.Errorf("%s: %w", c.name, err)
			}
			a.log.Debug("component stopped", slog.String("component", c.name))
			return nil
		})
	}

	a.log.Info("app started", slog.Int("components", len(a.components)))
	<-ctx.Done()
	a.log.Info("shutdown_start")

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-drained:
	case <-time.After(a.timeout):
		a.log.Warn("components did not stop in time", slog.Duration("timeout", a.timeout))
		if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
			runErr = cause
		}
	}

	for _, c := range a.closers {
		if err := c.close(); err != nil {
			a.log.Warn("close failed", slog.String("resource", c.name), slog.Any("error", err))
		}
	}

	a.log.Info("shutdown_done")
	return runErr
}

func (a *App) Stop() { a.cancelCtx() }

// HTTPServer serves srv until ctx is done and then shuts it down gracefully.
func HTTPServer(srv *http.Server, timeout time.Duration) RunFunc {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
