package radix

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Dialer opens one new transport connection to the pool's configured
// endpoint. The default implementation is a plain TCP dial; tests swap it
// out for an in-memory net.Pipe dialer.
type Dialer func(ctx context.Context) (net.Conn, error)

// DialOpts describes how to open and secure the transport connection a
// Dialer produces. NewDialer turns a DialOpts into a Dialer; Config.TCPClient
// can be set to the result when the default plain-TCP dial isn't enough
// (TLS, a non-default network, or a tighter dial timeout).
type DialOpts struct {
	// Network is passed to net.Dialer.DialContext ("tcp" if empty).
	Network string
	// Address is the host:port to dial ("" means Config's pool address).
	Address string
	// DialTimeout bounds a single dial attempt (no deadline if zero).
	DialTimeout time.Duration
	// TLSConfig, if non-nil, wraps the dialed connection with tls.Client
	// and performs the handshake before returning.
	TLSConfig *tls.Config
}

// NewDialer builds a Dialer from opts. addr is used when opts.Address is
// empty, so NewPool(addr, WithTCPClient(NewDialer(opts))) can leave Address
// unset and dial the pool's own address.
func NewDialer(opts DialOpts, addr string) Dialer {
	network := opts.Network
	if network == "" {
		network = "tcp"
	}
	address := opts.Address
	if address == "" {
		address = addr
	}
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: opts.DialTimeout}
		nc, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if opts.TLSConfig == nil {
			return nc, nil
		}
		tc := tls.Client(nc, opts.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, err
		}
		return tc, nil
	}
}

// Config enumerates the pool's tunable knobs as a typed struct with
// documented defaults, overridable either as a literal or via the
// PoolOption functional options below.
type Config struct {
	// InitialConnectionBackoffDelay is the first retry delay when a dial
	// attempt fails.
	InitialConnectionBackoffDelay time.Duration
	// ConnectionBackoffFactor multiplies the delay after each failed
	// retry (exponential backoff).
	ConnectionBackoffFactor float64
	// ConnectionRetryTimeout bounds the total time spent retrying a
	// single dial before giving up with ErrConnectRetryTimeout.
	ConnectionRetryTimeout time.Duration
	// MaximumConnectionCount bounds how many live connections the pool
	// will hold at once (free + leased).
	MaximumConnectionCount int
	// MinimumConnectionCount is how many connections NewPool dials
	// eagerly before returning.
	MinimumConnectionCount int
	// ConnectionPassword, if non-empty, is sent as AUTH on every freshly
	// dialed connection before it is handed to a caller.
	ConnectionPassword string
	// Database, if non-zero, is sent as SELECT on every freshly dialed
	// connection, right after AUTH.
	Database int
	// ConnectionDefaultLogger is used by every connection the pool dials
	// that isn't given its own logger.
	ConnectionDefaultLogger Logger
	// TCPClient opens the transport connection. Defaults to a plain TCP
	// dial against the pool's address.
	TCPClient Dialer
	// ReadTimeout, if non-zero, bounds how long Send/SendBytes on a dialed
	// connection wait for a reply; WriteTimeout, if non-zero, is applied as
	// a socket write deadline around every write. Exceeding either fails the
	// in-flight operation with ErrTimeout. Socket reads carry no deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the Config a bare NewPool(addr) uses.
func DefaultConfig() Config {
	return Config{
		InitialConnectionBackoffDelay: 50 * time.Millisecond,
		ConnectionBackoffFactor:       2.0,
		ConnectionRetryTimeout:        5 * time.Second,
		MaximumConnectionCount:        10,
		MinimumConnectionCount:        1,
	}
}

// PoolOption overrides one Config field on top of DefaultConfig.
type PoolOption func(*Config)

// WithMaximumConnectionCount overrides maximumConnectionCount.
func WithMaximumConnectionCount(n int) PoolOption {
	return func(c *Config) { c.MaximumConnectionCount = n }
}

// WithMinimumConnectionCount overrides minimumConnectionCount.
func WithMinimumConnectionCount(n int) PoolOption {
	return func(c *Config) { c.MinimumConnectionCount = n }
}

// WithConnectionPassword overrides connectionPassword.
func WithConnectionPassword(password string) PoolOption {
	return func(c *Config) { c.ConnectionPassword = password }
}

// WithConnectionDefaultLogger overrides connectionDefaultLogger.
func WithConnectionDefaultLogger(l Logger) PoolOption {
	return func(c *Config) { c.ConnectionDefaultLogger = l }
}

// WithInitialConnectionBackoffDelay overrides initialConnectionBackoffDelay.
func WithInitialConnectionBackoffDelay(d time.Duration) PoolOption {
	return func(c *Config) { c.InitialConnectionBackoffDelay = d }
}

// WithConnectionBackoffFactor overrides connectionBackoffFactor.
func WithConnectionBackoffFactor(f float64) PoolOption {
	return func(c *Config) { c.ConnectionBackoffFactor = f }
}

// WithConnectionRetryTimeout overrides connectionRetryTimeout.
func WithConnectionRetryTimeout(d time.Duration) PoolOption {
	return func(c *Config) { c.ConnectionRetryTimeout = d }
}

// WithTCPClient overrides tcpClient, e.g. with a net.Pipe dialer in tests.
func WithTCPClient(d Dialer) PoolOption {
	return func(c *Config) { c.TCPClient = d }
}

// WithDatabase overrides the database index sent via SELECT on dial.
func WithDatabase(db int) PoolOption {
	return func(c *Config) { c.Database = db }
}

// WithReadTimeout overrides readTimeout.
func WithReadTimeout(d time.Duration) PoolOption {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithWriteTimeout overrides writeTimeout.
func WithWriteTimeout(d time.Duration) PoolOption {
	return func(c *Config) { c.WriteTimeout = d }
}
