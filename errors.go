package radix

import "github.com/joomcode/errorx"

// Error taxonomy: protocol errors and transport errors are fatal to the
// connection that raised them; mode violations and server errors are
// per-request and leave connection state untouched; pool errors report
// exhaustion of the pool itself.
var (
	traitFatal = errorx.RegisterTrait("fatal")

	nsProtocol  = errorx.NewNamespace("protocol")
	nsMode      = errorx.NewNamespace("mode")
	nsTransport = errorx.NewNamespace("transport")
	nsServer    = errorx.NewNamespace("server")
	nsPool      = errorx.NewNamespace("pool")

	// ErrProtocol wraps a malformed-frame failure from the codec. Fatal:
	// the connection that produced it is torn down.
	ErrProtocol = nsProtocol.NewType("malformed_frame", traitFatal)

	// ErrConnClosed is returned by any operation on a Closed connection,
	// and by operations racing a concurrent close/teardown.
	ErrConnClosed = nsTransport.NewType("connection_closed")

	// ErrPubSubModeViolation is returned locally, without writing
	// anything to the socket, when a command outside the Pub/Sub
	// allowlist is sent while the connection is in PubSub state.
	ErrPubSubModeViolation = nsMode.NewType("pubsub_mode_violation")

	// ErrServer wraps a "-ERR ..." reply frame. Per-request; does not
	// affect connection state.
	ErrServer = nsServer.NewType("server_error")

	// ErrTimeout is returned when a blocking operation exceeds a
	// configured deadline.
	ErrTimeout = nsTransport.NewType("timeout")

	// ErrTransport wraps an underlying socket/TLS failure. Fatal.
	ErrTransport = nsTransport.NewType("transport_error", traitFatal)

	// ErrPoolExhausted is returned when the pool has no free connection
	// and is already at maximumConnectionCount.
	ErrPoolExhausted = nsPool.NewType("pool_exhausted")

	// ErrConnectRetryTimeout is returned when the pool's backoff loop
	// exhausts connectionRetryTimeout without establishing a connection.
	ErrConnectRetryTimeout = nsPool.NewType("connect_retry_timeout")

	// ErrPoolClosed is returned by any operation on a closed Pool.
	ErrPoolClosed = nsPool.NewType("pool_closed")
)

// IsFatal reports whether err carries the "fatal" trait — protocol and
// transport errors do, everything else (mode violations, server errors,
// pool errors) doesn't.
func IsFatal(err error) bool {
	return errorx.HasTrait(err, traitFatal)
}
