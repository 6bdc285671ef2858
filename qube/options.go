package qube

import "time"

type (
	// Option is a Queue creation option.
	Option func(*options)

	options struct {
		poolMin           int
		poolMax           int
		inactivityTimeout time.Duration
		pollInterval      time.Duration
		logger            Logger
	}
)

// WithPoolMin sets the minimum number of connections the store pool keeps
// warm. The default is 2.
func WithPoolMin(min int) Option {
	return func(o *options) { o.poolMin = min }
}

// WithPoolMax sets the maximum number of connections the store pool leases
// concurrently. The default is 1000.
func WithPoolMax(max int) Option {
	return func(o *options) { o.poolMax = max }
}

// WithInactivityTimeout sets the grace period a group worker remains alive
// after its last successful dequeue before it stops itself. The default is
// 2s.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) { o.inactivityTimeout = d }
}

// WithPollInterval sets the duration a group worker sleeps after finding its
// group empty before it polls again. The default is 1s.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithLogger sets the logger used to report background errors.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

func defaultOptions() *options {
	return &options{
		poolMin:           2,
		poolMax:           1000,
		inactivityTimeout: 2 * time.Second,
		pollInterval:      1 * time.Second,
		logger:            NoopLogger(),
	}
}

func parseOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
