package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Pool is a bounded pool of leased connections to the store. The underlying
// *redis.Client already multiplexes its own TCP connections; Pool layers a
// semaphore-bounded lease and a ping-based validation step on top of it so
// that callers observe the acquire/release/validate contract directly
// rather than relying on go-redis's internal pooling alone, and so that a
// dedicated subscriber/publisher connection can bypass leasing entirely
// (pub/sub connections enter a mode incompatible with general commands).
type Pool struct {
	rdb    *redis.Client
	leases chan struct{}
	min    int
	max    int
	logger Logger

	lock   sync.Mutex
	closed bool
}

// Conn is a leased connection. Every Conn returned by Acquire must be
// released exactly once via Release, on every code path including error
// paths.
type Conn struct {
	redis.Cmdable
	pool *Pool
}

// New dials the store and returns a bounded pool of leased connections.
func New(ctx context.Context, creds Credentials, opts ...Option) (*Pool, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         creds.addr(),
		Password:     creds.Password,
		DB:           creds.DB,
		PoolSize:     o.max,
		MinIdleConns: o.min,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: failed to connect to %s: %w", creds.addr(), err)
	}
	p := &Pool{
		rdb:    rdb,
		leases: make(chan struct{}, o.max),
		min:    o.min,
		max:    o.max,
		logger: o.logger,
	}
	for i := 0; i < o.max; i++ {
		p.leases <- struct{}{}
	}
	return p, nil
}

// Acquire blocks until a connection is available or ctx is done. The
// returned Conn is validated with a ping; if the ping fails, the lease is
// given back and the ping error is returned instead of a Conn. Acquire does
// not retry; the underlying client reconnects transparently, so a later
// Acquire may succeed.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	select {
	case <-p.leases:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		p.leases <- struct{}{}
		p.logger.Error(fmt.Errorf("store: invalid connection: %w", err))
		return nil, err
	}
	return &Conn{Cmdable: p.rdb, pool: p}, nil
}

// Release returns the lease to the pool. It is safe to call Release more
// than once; only the first call has an effect.
func (c *Conn) Release() {
	if c == nil || c.pool == nil {
		return
	}
	pool := c.pool
	c.pool = nil
	select {
	case pool.leases <- struct{}{}:
	default:
	}
}

// Subscriber opens a dedicated subscription connection on the given
// channels, bypassing the leased pool entirely.
func (p *Pool) Subscriber(ctx context.Context, channels ...string) *redis.PubSub {
	return p.rdb.Subscribe(ctx, channels...)
}

// Publish publishes payload on channel using the direct client, bypassing
// the leased pool.
func (p *Pool) Publish(ctx context.Context, channel string, payload any) error {
	return p.rdb.Publish(ctx, channel, payload).Err()
}

// Client returns the underlying go-redis client, for callers that need to
// run commands without going through the leasing semaphore.
func (p *Pool) Client() redis.Cmdable {
	return p.rdb
}

// Close closes the underlying client, which also serves the subscribe and
// publish paths. The lease semaphore is left as it is, so a later Acquire
// fails on its ping. In-flight leases observe their next store operation
// fail; Close does not wait for outstanding leases to be released.
func (p *Pool) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.rdb.Close()
}
