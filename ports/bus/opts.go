package bus

type (
	consumerOpts struct {
		backoff Backoff
		metrics Metrics
	}

	ConsumerOption func(*consumerOpts)
)

func WithBackoff(b Backoff) ConsumerOption {
	return func(o *consumerOpts) { o.backoff = b }
}

func WithMetrics(m Metrics) ConsumerOption {
	return func(o *consumerOpts) { o.metrics = m }
}

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	o := consumerOpts{backoff: DefaultBackoff, metrics: NopMetrics()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
