package store

type (
	// Logger is the minimal logging interface the pool needs. It is
	// declared locally rather than imported from the qube package so that
	// qube (which constructs a Pool) can hand it a qube.Logger without
	// creating an import cycle: any concrete logger whose Debug/Info/Error
	// methods match this shape satisfies it automatically.
	Logger interface {
		Debug(msg string, kvs ...any)
		Info(msg string, kvs ...any)
		Error(err error, kvs ...any)
	}

	// Option configures a Pool.
	Option func(*poolOptions)

	poolOptions struct {
		min    int
		max    int
		logger Logger
	}

	noopLogger struct{}
)

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(error, ...any)  {}

// WithMin sets the number of connections the pool keeps warm. The default
// is 2.
func WithMin(min int) Option {
	return func(o *poolOptions) { o.min = min }
}

// WithMax sets the maximum number of connections the pool leases
// concurrently. The default is 1000.
func WithMax(max int) Option {
	return func(o *poolOptions) { o.max = max }
}

// WithLogger sets the logger used to report connection errors.
func WithLogger(logger Logger) Option {
	return func(o *poolOptions) { o.logger = logger }
}

func defaultOptions() *poolOptions {
	return &poolOptions{min: 2, max: 1000, logger: noopLogger{}}
}
