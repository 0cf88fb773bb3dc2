package es

import "log/slog"

type (
	repoOpts struct {
		log       *slog.Logger
		metrics   ESMetrics
		snapshots bool
	}

	RepositoryOption interface {
		applyToRepository(*repoOpts)
	}

	SnapshotsOption valueOption[bool]
)

func (o LogOption) applyToRepository(r *repoOpts)       { r.log = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOpts) { r.metrics = o.v }
func (o SnapshotsOption) applyToRepository(r *repoOpts) { r.snapshots = o.v }

// WithSnapshots toggles reading snapshots on load. Enabled by default.
func WithSnapshots(enabled bool) SnapshotsOption { return SnapshotsOption{v: enabled} }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		log:       slog.Default(),
		metrics:   NopESMetrics(),
		snapshots: true,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}
