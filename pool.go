package radix

import (
	"context"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/lattice-db/radix/cmd"
	"github.com/lattice-db/radix/resp/resp2"
)

// Pool holds a bounded collection of Conns against one address, lazily
// growing up to maximumConnectionCount and dialing
// minimumConnectionCount eagerly at construction. A single connection is
// reserved as the pool's Pub/Sub lease: every pool-level Subscribe/
// PSubscribe reuses it until the connection's subscriptions drain back to
// none, at which point the lease is released back to the free set.
type Pool struct {
	addr string
	cfg  Config

	mu     sync.Mutex
	free   []*Conn
	leased map[*Conn]bool
	count  int
	closed bool

	pubsubMu   sync.Mutex
	pubsubConn *Conn
}

// NewPool dials minimumConnectionCount connections against addr and returns
// a Pool ready to lease them out. A nil TCPClient in opts defaults to a
// plain TCP dial against addr.
func NewPool(addr string, opts ...PoolOption) (*Pool, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TCPClient == nil {
		cfg.TCPClient = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	p := &Pool{addr: addr, cfg: cfg, leased: map[*Conn]bool{}}
	for i := 0; i < cfg.MinimumConnectionCount; i++ {
		c, err := p.dial(context.Background())
		if err != nil {
			p.Close()
			return nil, err
		}
		p.free = append(p.free, c)
		p.count++
	}
	return p, nil
}

// LeasedConnectionCount reports how many connections the pool currently has
// leased out, including the standing Pub/Sub lease when one is held.
func (p *Pool) LeasedConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialConnectionBackoffDelay
	b.Multiplier = p.cfg.ConnectionBackoffFactor
	b.MaxElapsedTime = p.cfg.ConnectionRetryTimeout
	b.Reset()

	var nc net.Conn
	op := func() error {
		c, err := p.cfg.TCPClient(ctx)
		if err != nil {
			return err
		}
		nc = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		logErrorf(p.cfg.ConnectionDefaultLogger, "dial failed", map[string]interface{}{"addr": p.addr, "err": err.Error()})
		return nil, ErrConnectRetryTimeout.Wrap(err, "dial %s", p.addr)
	}

	c := NewConn(nc, p.cfg.ConnectionDefaultLogger)
	c.SetTimeouts(p.cfg.ReadTimeout, p.cfg.WriteTimeout)
	if p.cfg.ConnectionPassword != "" {
		if _, err := c.Send("AUTH", p.cfg.ConnectionPassword); err != nil {
			c.Close()
			return nil, err
		}
	}
	if p.cfg.Database != 0 {
		sel := cmd.Select(p.cfg.Database)
		if _, err := c.SendBytes(sel.Name, sel.Args...); err != nil {
			c.Close()
			return nil, err
		}
	}
	logDebugf(p.cfg.ConnectionDefaultLogger, "dialed connection", map[string]interface{}{"addr": p.addr})
	return c, nil
}

// lease hands back a free, live connection, dialing a fresh one if none is
// free and the pool has room under maximumConnectionCount.
func (p *Pool) lease(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed.New("pool closed")
	}
	for len(p.free) > 0 {
		c := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		if c.loadState() == stateClosed {
			p.count--
			continue
		}
		p.leased[c] = true
		p.mu.Unlock()
		return c, nil
	}
	if p.count >= p.cfg.MaximumConnectionCount {
		p.mu.Unlock()
		logErrorf(p.cfg.ConnectionDefaultLogger, "pool exhausted", map[string]interface{}{"max": p.cfg.MaximumConnectionCount})
		return nil, ErrPoolExhausted.New("pool exhausted (max %d)", p.cfg.MaximumConnectionCount)
	}
	p.count++
	p.mu.Unlock()

	c, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Lock()
	p.leased[c] = true
	p.mu.Unlock()
	logDebugf(p.cfg.ConnectionDefaultLogger, "leased new connection", map[string]interface{}{"addr": p.addr})
	return c, nil
}

func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, c)
	if c.loadState() == stateClosed {
		p.count--
		logInfof(p.cfg.ConnectionDefaultLogger, "released dead connection", map[string]interface{}{"addr": p.addr})
		return
	}
	p.free = append(p.free, c)
}

// Send leases a connection for the duration of one command, the ordinary
// (non-Pub/Sub) pool-level entry point.
func (p *Pool) Send(cmd string, args ...string) (resp2.Value, error) {
	c, err := p.lease(context.Background())
	if err != nil {
		return resp2.Value{}, err
	}
	defer p.release(c)
	return c.Send(cmd, args...)
}

// acquirePubSubConn returns the pool's standing Pub/Sub lease, leasing a
// fresh connection only if none is currently held.
func (p *Pool) acquirePubSubConn() (*Conn, error) {
	p.pubsubMu.Lock()
	defer p.pubsubMu.Unlock()
	if p.pubsubConn != nil && p.pubsubConn.loadState() != stateClosed {
		return p.pubsubConn, nil
	}
	c, err := p.lease(context.Background())
	if err != nil {
		return nil, err
	}
	p.pubsubConn = c
	return c, nil
}

// releasePubSubIfIdle returns c to the free set once it no longer holds any
// subscription, clearing the standing lease.
func (p *Pool) releasePubSubIfIdle(c *Conn) {
	if c.IsSubscribed() {
		return
	}
	p.pubsubMu.Lock()
	if p.pubsubConn == c {
		p.pubsubConn = nil
	}
	p.pubsubMu.Unlock()
	p.release(c)
}

// Subscribe is the pool-level Pub/Sub entry point: it acquires (or reuses)
// the pool's standing lease connection and subscribes on it.
func (p *Pool) Subscribe(channels []string, onMessage MessageReceiver, onSubscribe OnSubscribe, onUnsubscribe OnUnsubscribe) error {
	c, err := p.acquirePubSubConn()
	if err != nil {
		return err
	}
	return c.Subscribe(channels, onMessage, onSubscribe, onUnsubscribe)
}

// PSubscribe is the pattern analogue of Subscribe.
func (p *Pool) PSubscribe(patterns []string, onMessage PatternMessageReceiver, onSubscribe OnSubscribe, onUnsubscribe OnUnsubscribe) error {
	c, err := p.acquirePubSubConn()
	if err != nil {
		return err
	}
	return c.PSubscribe(patterns, onMessage, onSubscribe, onUnsubscribe)
}

// Unsubscribe unsubscribes on the pool's standing lease connection. With no
// lease currently held, it is a local no-op that never leases a connection.
func (p *Pool) Unsubscribe(channels []string) error {
	p.pubsubMu.Lock()
	c := p.pubsubConn
	p.pubsubMu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Unsubscribe(channels); err != nil {
		return err
	}
	p.releasePubSubIfIdle(c)
	return nil
}

// PUnsubscribe is the pattern analogue of Unsubscribe.
func (p *Pool) PUnsubscribe(patterns []string) error {
	p.pubsubMu.Lock()
	c := p.pubsubConn
	p.pubsubMu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.PUnsubscribe(patterns); err != nil {
		return err
	}
	p.releasePubSubIfIdle(c)
	return nil
}

// Close closes every connection the pool holds, free or leased, and marks
// the pool unusable for further leases.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, c := range p.free {
		c.Close()
	}
	for c := range p.leased {
		c.Close()
	}
	p.free = nil
	p.leased = map[*Conn]bool{}
	return nil
}
