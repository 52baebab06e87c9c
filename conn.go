package radix

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/lattice-db/radix/resp/resp2"
)

// connState is the connection state machine: Normal only serves ordinary
// commands FIFO; PubSub additionally dispatches push frames and restricts
// outbound commands to the allowlist; Closed is terminal.
type connState int32

const (
	stateNormal connState = iota
	statePubSub
	stateClosed
)

// pubSubAllowlist is the exact, closed set of commands permitted while a
// connection is in PubSub state; everything else is rejected locally,
// never written to the socket.
var pubSubAllowlist = map[string]bool{
	"SUBSCRIBE":    true,
	"PSUBSCRIBE":   true,
	"UNSUBSCRIBE":  true,
	"PUNSUBSCRIBE": true,
	"PING":         true,
	"QUIT":         true,
	"RESET":        true,
}

func allowedInPubSub(cmd string) bool {
	return pubSubAllowlist[strings.ToUpper(cmd)]
}

// pendingRequest is one outstanding non-push request: created when its
// command is written, destroyed when the FIFO delivers its reply or the
// connection tears down.
type pendingRequest struct {
	cmd string
	fut *Future
}

type pendingSubEntry struct {
	channel *channelEntry
	pattern *patternEntry
	await   *subAwait
}

// subAwait is the synchronization point for a single subscribe/psubscribe/
// unsubscribe/punsubscribe call: it resolves once every channel or pattern
// named in the request has been confirmed by a matching push frame, or
// once the connection fails.
type subAwait struct {
	mu        sync.Mutex
	remaining int
	err       error
	done      chan struct{}
	closed    bool
}

func newSubAwait(n int) *subAwait {
	return &subAwait{remaining: n, done: make(chan struct{})}
}

func (a *subAwait) complete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.remaining--
	if a.remaining <= 0 {
		a.closed = true
		close(a.done)
	}
}

func (a *subAwait) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.err = err
	a.closed = true
	close(a.done)
}

func (a *subAwait) wait() error {
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Conn owns one duplex byte stream to a Redis-compatible server. All
// socket reads, push-frame dispatch and user-callback invocation happen on
// a single goroutine (the executor started by runLoop), so callbacks are
// always serialized and never run concurrently for the same Conn. Writes
// are pipelined: two back-to-back Send calls do not wait for the first
// reply before the second is written.
type Conn struct {
	nc     net.Conn
	logger Logger

	readTimeout  atomic.Int64 // time.Duration, 0 = no deadline
	writeTimeout atomic.Int64
	debugTrace   atomic.Bool

	state int32 // atomic connState

	writeMu sync.Mutex // serializes "enqueue + write" so FIFO order matches wire order

	pendingMu    sync.Mutex
	pendingQueue []*pendingRequest

	subMu         sync.Mutex
	pendingSubs   map[string]*pendingSubEntry // channel name -> awaiting confirmation
	pendingPSubs  map[string]*pendingSubEntry // pattern name -> awaiting confirmation
	pendingUnsubs map[string]*subAwait        // channel name ("" = bare/null) -> awaiting confirmation
	pendingPUnsub map[string]*subAwait        // pattern name ("" = bare/null) -> awaiting confirmation

	tracker *tracker

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewConn wraps an already-established duplex byte stream (e.g. the result
// of net.Dial) as a Conn in Normal state and starts its executor goroutine.
func NewConn(nc net.Conn, logger Logger) *Conn {
	c := &Conn{
		nc:            nc,
		logger:        logger,
		state:         int32(stateNormal),
		pendingSubs:   map[string]*pendingSubEntry{},
		pendingPSubs:  map[string]*pendingSubEntry{},
		pendingUnsubs: map[string]*subAwait{},
		pendingPUnsub: map[string]*subAwait{},
		tracker:       newTracker(),
		closedCh:      make(chan struct{}),
	}
	go c.runLoop()
	return c
}

// IsSubscribed reports whether this connection currently holds any channel
// or pattern subscription. It is derived from the tracker, never tracked
// as an independent flag.
func (c *Conn) IsSubscribed() bool {
	return c.tracker.isSubscribed()
}

func (c *Conn) loadState() connState {
	return connState(atomic.LoadInt32(&c.state))
}

// SetTimeouts installs the connection's timeouts: readTimeout bounds how
// long Send/SendBytes wait for a reply, and writeTimeout is set as a socket
// write deadline before every write; zero disables either one. Exceeding one
// fails the in-flight operation with ErrTimeout rather than tearing the
// connection down as a transport failure. The socket read loop itself runs
// without a deadline.
func (c *Conn) SetTimeouts(readTimeout, writeTimeout time.Duration) {
	c.readTimeout.Store(int64(readTimeout))
	c.writeTimeout.Store(int64(writeTimeout))
}

// SetDebugTrace toggles a go-spew dump of every decoded frame to the
// connection's Logger at debug level. Off by default since Sdump is not
// free; useful when diagnosing a misbehaving server or codec bug.
func (c *Conn) SetDebugTrace(on bool) {
	c.debugTrace.Store(on)
}

func (c *Conn) traceFrame(v resp2.Value) {
	if !c.debugTrace.Load() || c.logger == nil {
		return
	}
	logDebugf(c.logger, "frame received", map[string]interface{}{"dump": spew.Sdump(v)})
}

func asTimeout(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout.Wrap(err, "deadline exceeded")
	}
	return nil
}

// writeLocked writes wire to the socket. Caller must hold writeMu.
func (c *Conn) writeLocked(wire []byte) error {
	if d := time.Duration(c.writeTimeout.Load()); d > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(d))
	}
	if _, err := c.nc.Write(wire); err != nil {
		if te := asTimeout(err); te != nil {
			return te
		}
		go c.teardown(ErrTransport.Wrap(err, "write"))
		return ErrTransport.Wrap(err, "write")
	}
	return nil
}

// SendBytes writes cmd+args as a RESP command and blocks for its reply.
// Fails with ErrConnClosed if the connection is Closed, or
// ErrPubSubModeViolation (without writing anything) if cmd is outside the
// Pub/Sub allowlist while the connection is in PubSub state.
func (c *Conn) SendBytes(cmd string, args ...[]byte) (resp2.Value, error) {
	fut, err := c.sendAsyncBytes(cmd, args...)
	if err != nil {
		return resp2.Value{}, err
	}
	return fut.ReplyTimeout(time.Duration(c.readTimeout.Load()))
}

// Send is the string-argument convenience form of SendBytes.
func (c *Conn) Send(cmd string, args ...string) (resp2.Value, error) {
	bb := make([][]byte, len(args))
	for i, a := range args {
		bb[i] = []byte(a)
	}
	return c.SendBytes(cmd, bb...)
}

// SendAsync is the non-blocking form of Send: it writes the command and
// returns a Future the caller can collect later.
func (c *Conn) SendAsync(cmd string, args ...string) (*Future, error) {
	bb := make([][]byte, len(args))
	for i, a := range args {
		bb[i] = []byte(a)
	}
	return c.sendAsyncBytes(cmd, bb...)
}

func (c *Conn) sendAsyncBytes(cmd string, args ...[]byte) (*Future, error) {
	if c.loadState() == stateClosed {
		return nil, ErrConnClosed.New("connection closed")
	}
	if c.loadState() == statePubSub && !allowedInPubSub(cmd) {
		return nil, ErrPubSubModeViolation.New("%s is not allowed while in pubsub mode", cmd)
	}

	full := make([][]byte, 0, len(args)+1)
	full = append(full, []byte(cmd))
	full = append(full, args...)
	wire := resp2.EncodeCommand(full)

	fut := newFuture()
	pr := &pendingRequest{cmd: strings.ToUpper(cmd), fut: fut}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Re-check under writeMu: a concurrent teardown may have closed the
	// connection between the check above and acquiring the lock.
	if c.loadState() == stateClosed {
		return nil, ErrConnClosed.New("connection closed")
	}
	c.pendingMu.Lock()
	c.pendingQueue = append(c.pendingQueue, pr)
	c.pendingMu.Unlock()
	if err := c.writeLocked(wire); err != nil {
		return nil, err
	}
	return fut, nil
}

// Publish sends PUBLISH and returns the number of subscribers that
// received the message.
func (c *Conn) Publish(channel string, payload []byte) (int64, error) {
	v, err := c.SendBytes("PUBLISH", []byte(channel), payload)
	if err != nil {
		return 0, err
	}
	if v.Type != resp2.Integer {
		return 0, fmt.Errorf("radix: unexpected PUBLISH reply type %s", v.Type)
	}
	return v.Int, nil
}

// Ping sends PING, optionally with a payload, and returns the server's
// reply text. Valid in both Normal and PubSub state.
func (c *Conn) Ping(payload ...string) (string, error) {
	var (
		v   resp2.Value
		err error
	)
	if len(payload) == 0 {
		v, err = c.Send("PING")
	} else {
		v, err = c.Send("PING", payload[0])
	}
	if err != nil {
		return "", err
	}
	switch v.Type {
	case resp2.SimpleString:
		return v.Str, nil
	case resp2.BulkString:
		return string(v.Bytes), nil
	default:
		return "", fmt.Errorf("radix: unexpected PING reply type %s", v.Type)
	}
}

// Subscribe writes SUBSCRIBE for the given channels, transitioning
// Normal->PubSub the instant the command is written, and resolves once
// the server has confirmed every channel via its push frames.
func (c *Conn) Subscribe(channels []string, onMessage MessageReceiver, onSubscribe OnSubscribe, onUnsubscribe OnUnsubscribe) error {
	if len(channels) == 0 {
		return fmt.Errorf("radix: subscribe requires at least one channel")
	}
	if c.loadState() == stateClosed {
		return ErrConnClosed.New("connection closed")
	}

	await := newSubAwait(len(channels))
	args := make([][]byte, 0, len(channels)+1)
	args = append(args, []byte("SUBSCRIBE"))
	for _, ch := range channels {
		args = append(args, []byte(ch))
	}
	wire := resp2.EncodeCommand(args)

	c.writeMu.Lock()
	if c.loadState() == stateClosed {
		c.writeMu.Unlock()
		return ErrConnClosed.New("connection closed")
	}
	c.subMu.Lock()
	for _, ch := range channels {
		c.pendingSubs[ch] = &pendingSubEntry{
			channel: &channelEntry{name: ch, onMessage: onMessage, onSubscribe: onSubscribe, onUnsubscribe: onUnsubscribe},
			await:   await,
		}
	}
	c.subMu.Unlock()
	atomic.CompareAndSwapInt32(&c.state, int32(stateNormal), int32(statePubSub))
	err := c.writeLocked(wire)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	return await.wait()
}

// PSubscribe is the pattern-subscription analogue of Subscribe.
func (c *Conn) PSubscribe(patterns []string, onMessage PatternMessageReceiver, onSubscribe OnSubscribe, onUnsubscribe OnUnsubscribe) error {
	if len(patterns) == 0 {
		return fmt.Errorf("radix: psubscribe requires at least one pattern")
	}
	if c.loadState() == stateClosed {
		return ErrConnClosed.New("connection closed")
	}

	await := newSubAwait(len(patterns))
	args := make([][]byte, 0, len(patterns)+1)
	args = append(args, []byte("PSUBSCRIBE"))
	for _, p := range patterns {
		args = append(args, []byte(p))
	}
	wire := resp2.EncodeCommand(args)

	c.writeMu.Lock()
	if c.loadState() == stateClosed {
		c.writeMu.Unlock()
		return ErrConnClosed.New("connection closed")
	}
	c.subMu.Lock()
	for _, p := range patterns {
		c.pendingPSubs[p] = &pendingSubEntry{
			pattern: &patternEntry{name: p, onMessage: onMessage, onSubscribe: onSubscribe, onUnsubscribe: onUnsubscribe},
			await:   await,
		}
	}
	c.subMu.Unlock()
	atomic.CompareAndSwapInt32(&c.state, int32(stateNormal), int32(statePubSub))
	err := c.writeLocked(wire)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	return await.wait()
}

// Unsubscribe unsubscribes from the given channels, or from every
// currently held channel subscription if channels is empty (pattern
// subscriptions are unaffected). It resolves once every expected
// unsubscribe push has arrived.
func (c *Conn) Unsubscribe(channels []string) error {
	return c.unsubscribe("UNSUBSCRIBE", channels, c.tracker.channelNames, c.pendingUnsubs)
}

// PUnsubscribe is the pattern analogue of Unsubscribe.
func (c *Conn) PUnsubscribe(patterns []string) error {
	return c.unsubscribe("PUNSUBSCRIBE", patterns, c.tracker.patternNames, c.pendingPUnsub)
}

func (c *Conn) unsubscribe(cmd string, names []string, currentNames func() []string, pendingMap map[string]*subAwait) error {
	if c.loadState() == stateClosed {
		return ErrConnClosed.New("connection closed")
	}

	var wireArgs []string
	var expectNames []string
	bare := len(names) == 0
	if bare {
		expectNames = currentNames()
	} else {
		expectNames = names
		wireArgs = names
	}

	expected := len(expectNames)
	nullAwait := expected == 0
	if nullAwait {
		expected = 1
	}
	await := newSubAwait(expected)

	args := make([][]byte, 0, len(wireArgs)+1)
	args = append(args, []byte(cmd))
	for _, n := range wireArgs {
		args = append(args, []byte(n))
	}
	wire := resp2.EncodeCommand(args)

	c.writeMu.Lock()
	if c.loadState() == stateClosed {
		c.writeMu.Unlock()
		return ErrConnClosed.New("connection closed")
	}
	c.subMu.Lock()
	if nullAwait {
		pendingMap[""] = await
	} else {
		for _, n := range expectNames {
			pendingMap[n] = await
		}
	}
	c.subMu.Unlock()
	err := c.writeLocked(wire)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	return await.wait()
}

// Close performs a best-effort QUIT and tears the connection down. Without a
// configured write timeout the QUIT write is bounded by a short deadline, so
// a peer that never reads cannot keep Close from returning.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	if c.loadState() != stateClosed {
		_ = c.nc.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		_ = c.writeLocked(resp2.EncodeCommandStrings("QUIT"))
	}
	c.writeMu.Unlock()
	c.teardown(ErrConnClosed.New("connection closed"))
	return nil
}

// teardown is the single fatal-failure path: state -> Closed, the socket
// is closed, every pending future fails with cause, and on_unsubscribe
// callbacks are NOT synthesized for the subscriptions that were live at
// teardown.
func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, int32(stateClosed))
		_ = c.nc.Close()
		c.failAllPending(cause)
		close(c.closedCh)
		logInfof(c.logger, "connection closed", map[string]interface{}{"cause": cause})
	})
}

func (c *Conn) failAllPending(cause error) {
	c.pendingMu.Lock()
	q := c.pendingQueue
	c.pendingQueue = nil
	c.pendingMu.Unlock()
	for _, pr := range q {
		pr.fut.complete(resp2.Value{}, cause)
	}

	c.subMu.Lock()
	subs := c.pendingSubs
	psubs := c.pendingPSubs
	unsubs := c.pendingUnsubs
	punsubs := c.pendingPUnsub
	c.pendingSubs = map[string]*pendingSubEntry{}
	c.pendingPSubs = map[string]*pendingSubEntry{}
	c.pendingUnsubs = map[string]*subAwait{}
	c.pendingPUnsub = map[string]*subAwait{}
	c.subMu.Unlock()

	for _, pe := range subs {
		pe.await.fail(cause)
	}
	for _, pe := range psubs {
		pe.await.fail(cause)
	}
	seen := map[*subAwait]bool{}
	for _, a := range unsubs {
		if !seen[a] {
			a.fail(cause)
			seen[a] = true
		}
	}
	for _, a := range punsubs {
		if !seen[a] {
			a.fail(cause)
			seen[a] = true
		}
	}

	// Tear-down is not a logical unsubscribe: clear state without
	// invoking any on_unsubscribe callback.
	c.tracker.reset()
}

// runLoop is the connection's executor: the single goroutine that reads
// frames off the socket, dispatches push frames, and delivers replies to
// the pending FIFO. All user callbacks run here, serialized and in
// arrival order.
func (c *Conn) runLoop() {
	fb := newFrameBuffer()
	for {
		for {
			v, n, err := resp2.Decode(fb.bytes())
			if err != nil {
				c.teardown(ErrProtocol.Wrap(err, "malformed frame"))
				return
			}
			if n == 0 {
				break
			}
			fb.consume(n)
			c.traceFrame(v)
			c.dispatch(v)
		}
		if _, err := fb.fill(c.nc); err != nil {
			c.teardown(ErrTransport.Wrap(err, "read"))
			return
		}
	}
}

func bulkName(v resp2.Value) (name string, isNull bool) {
	if v.Type != resp2.BulkString {
		return "", false
	}
	if v.Null {
		return "", true
	}
	return string(v.Bytes), false
}

// dispatch partitions an incoming frame into push or reply: a push frame
// is any Array whose first element, lowercased, is one of the six Pub/Sub
// frame names; everything else consumes the pending-request FIFO,
// identically in Normal and PubSub state.
func (c *Conn) dispatch(v resp2.Value) {
	if v.Type == resp2.Array && !v.Null && len(v.Elems) > 0 {
		if name, isNull := bulkName(v.Elems[0]); !isNull {
			switch strings.ToLower(name) {
			case "message":
				c.handleMessage(v)
				return
			case "pmessage":
				c.handlePMessage(v)
				return
			case "subscribe":
				c.handleSubConfirm(v, c.pendingSubs, func(e *pendingSubEntry) { c.tracker.addChannel(e.channel) })
				return
			case "psubscribe":
				c.handleSubConfirm(v, c.pendingPSubs, func(e *pendingSubEntry) { c.tracker.addPattern(e.pattern) })
				return
			case "unsubscribe":
				c.handleUnsubConfirm(v, c.pendingUnsubs, true)
				return
			case "punsubscribe":
				c.handleUnsubConfirm(v, c.pendingPUnsub, false)
				return
			}
		}
	}
	c.handleReply(v)
}

func (c *Conn) handleMessage(v resp2.Value) {
	if len(v.Elems) < 3 {
		return
	}
	channel, _ := bulkName(v.Elems[1])
	payload := v.Elems[2].Bytes
	entry := c.tracker.channel(channel)
	if entry != nil && entry.onMessage != nil {
		entry.onMessage(channel, payload)
	}
}

func (c *Conn) handlePMessage(v resp2.Value) {
	if len(v.Elems) < 4 {
		return
	}
	pattern, _ := bulkName(v.Elems[1])
	channel, _ := bulkName(v.Elems[2])
	payload := v.Elems[3].Bytes
	entry := c.tracker.pattern(pattern)
	if entry != nil && entry.onMessage != nil {
		entry.onMessage(pattern, channel, payload)
	}
}

func (c *Conn) handleSubConfirm(v resp2.Value, pending map[string]*pendingSubEntry, install func(*pendingSubEntry)) {
	if len(v.Elems) < 3 {
		return
	}
	name, isNull := bulkName(v.Elems[1])
	count := v.Elems[2].Int
	if isNull {
		return
	}
	c.subMu.Lock()
	e, ok := pending[name]
	if ok {
		delete(pending, name)
	}
	c.subMu.Unlock()
	if !ok {
		logErrorf(c.logger, "unexpected subscribe confirmation", map[string]interface{}{"name": name})
		return
	}
	install(e)
	onSub := e.await
	var cb OnSubscribe
	if e.channel != nil {
		cb = e.channel.onSubscribe
	} else if e.pattern != nil {
		cb = e.pattern.onSubscribe
	}
	if cb != nil {
		cb(name, int(count))
	}
	onSub.complete()
}

func (c *Conn) handleUnsubConfirm(v resp2.Value, pending map[string]*subAwait, isChannel bool) {
	if len(v.Elems) < 3 {
		return
	}
	name, isNull := bulkName(v.Elems[1])
	count := v.Elems[2].Int

	key := name
	if isNull {
		key = ""
	}
	c.subMu.Lock()
	await, ok := pending[key]
	if ok {
		delete(pending, key)
	}
	c.subMu.Unlock()

	if !isNull {
		var cb OnUnsubscribe
		if isChannel {
			if e := c.tracker.removeChannel(name); e != nil {
				cb = e.onUnsubscribe
			}
		} else {
			if e := c.tracker.removePattern(name); e != nil {
				cb = e.onUnsubscribe
			}
		}
		if cb != nil {
			cb(name, int(count))
		}
	}
	// PubSub -> Normal exactly when both maps are empty after this push.
	if !c.tracker.isSubscribed() {
		atomic.CompareAndSwapInt32(&c.state, int32(statePubSub), int32(stateNormal))
	}
	if ok {
		await.complete()
	}
}

func (c *Conn) handleReply(v resp2.Value) {
	c.pendingMu.Lock()
	if len(c.pendingQueue) == 0 {
		c.pendingMu.Unlock()
		logErrorf(c.logger, "unexpected reply with no pending request", map[string]interface{}{"value": v.String()})
		return
	}
	pr := c.pendingQueue[0]
	c.pendingQueue = c.pendingQueue[1:]
	c.pendingMu.Unlock()

	if pr.cmd == "RESET" && !v.IsError() {
		// RESET's own reply is its confirmation: clear subscription state
		// without synthesizing any on_unsubscribe callback and transition
		// straight back to Normal.
		c.tracker.reset()
		atomic.StoreInt32(&c.state, int32(stateNormal))
	}

	if v.IsError() {
		pr.fut.complete(v, ErrServer.Wrap(v.AsError(), "server error"))
		return
	}
	pr.fut.complete(v, nil)
}
