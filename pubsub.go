package radix

import "sync"

// PubSubMessage is what FanoutPubSub delivers on every Go channel
// subscribed to a published channel or pattern. Pattern is set only when
// delivery came via a pattern match.
type PubSubMessage struct {
	Pattern string
	Channel string
	Payload []byte
}

type chanSet map[string]map[chan<- PubSubMessage]bool

func (cs chanSet) add(s string, ch chan<- PubSubMessage) {
	m, ok := cs[s]
	if !ok {
		m = map[chan<- PubSubMessage]bool{}
		cs[s] = m
	}
	m[ch] = true
}

// del removes ch from s's listener set, reporting whether s now has no
// listeners left.
func (cs chanSet) del(s string, ch chan<- PubSubMessage) bool {
	m, ok := cs[s]
	if !ok {
		return true
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(cs, s)
		return true
	}
	return false
}

// missing returns the subset of ss this chanSet holds no entry for, in a
// freshly allocated slice; ss itself is never mutated.
func (cs chanSet) missing(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := cs[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// FanoutPubSub lets many independent Go channels share one underlying
// Conn subscription. Subscribe/PSubscribe issue a server round trip only
// for channels/patterns nobody is yet listening to; Unsubscribe/
// PUnsubscribe issue one only for a channel/pattern whose last listener
// just left. This is the many-listeners-per-channel ergonomics the
// callback-per-name Conn.Subscribe doesn't give you directly.
//
// The wrapped Conn's Subscribe/PSubscribe callback slot is reserved for
// fanout dispatch; driving it directly alongside a FanoutPubSub will starve
// one or the other of deliveries.
type FanoutPubSub struct {
	conn   *Conn
	logger Logger

	mu    sync.Mutex
	subs  chanSet
	psubs chanSet
}

// NewFanoutPubSub wraps conn for many-listener Pub/Sub fanout. logger may be
// nil, which silences fanout-level logging (channel/pattern subscribe and
// unsubscribe events); conn's own logger, if any, still covers wire-level
// events.
func NewFanoutPubSub(conn *Conn, logger Logger) *FanoutPubSub {
	return &FanoutPubSub{conn: conn, logger: logger, subs: chanSet{}, psubs: chanSet{}}
}

func (f *FanoutPubSub) dispatchMessage(channel string, payload []byte) {
	f.mu.Lock()
	targets := make([]chan<- PubSubMessage, 0, len(f.subs[channel]))
	for ch := range f.subs[channel] {
		targets = append(targets, ch)
	}
	f.mu.Unlock()
	for _, ch := range targets {
		ch <- PubSubMessage{Channel: channel, Payload: payload}
	}
}

func (f *FanoutPubSub) dispatchPMessage(pattern, channel string, payload []byte) {
	f.mu.Lock()
	targets := make([]chan<- PubSubMessage, 0, len(f.psubs[pattern]))
	for ch := range f.psubs[pattern] {
		targets = append(targets, ch)
	}
	f.mu.Unlock()
	for _, ch := range targets {
		ch <- PubSubMessage{Pattern: pattern, Channel: channel, Payload: payload}
	}
}

// Subscribe adds msgCh as a listener on every named channel.
func (f *FanoutPubSub) Subscribe(msgCh chan<- PubSubMessage, channels ...string) error {
	f.mu.Lock()
	missing := f.subs.missing(channels)
	f.mu.Unlock()

	if len(missing) > 0 {
		if err := f.conn.Subscribe(missing, f.dispatchMessage, nil, nil); err != nil {
			return err
		}
		logDebugf(f.logger, "subscribed", map[string]interface{}{"channels": missing})
	}

	f.mu.Lock()
	for _, channel := range channels {
		f.subs.add(channel, msgCh)
	}
	f.mu.Unlock()
	return nil
}

// Unsubscribe removes msgCh as a listener on every named channel.
func (f *FanoutPubSub) Unsubscribe(msgCh chan<- PubSubMessage, channels ...string) error {
	f.mu.Lock()
	emptied := make([]string, 0, len(channels))
	for _, channel := range channels {
		if f.subs.del(channel, msgCh) {
			emptied = append(emptied, channel)
		}
	}
	f.mu.Unlock()

	if len(emptied) == 0 {
		return nil
	}
	logDebugf(f.logger, "unsubscribed", map[string]interface{}{"channels": emptied})
	return f.conn.Unsubscribe(emptied)
}

// PSubscribe is the pattern analogue of Subscribe.
func (f *FanoutPubSub) PSubscribe(msgCh chan<- PubSubMessage, patterns ...string) error {
	f.mu.Lock()
	missing := f.psubs.missing(patterns)
	f.mu.Unlock()

	if len(missing) > 0 {
		if err := f.conn.PSubscribe(missing, f.dispatchPMessage, nil, nil); err != nil {
			return err
		}
		logDebugf(f.logger, "psubscribed", map[string]interface{}{"patterns": missing})
	}

	f.mu.Lock()
	for _, pattern := range patterns {
		f.psubs.add(pattern, msgCh)
	}
	f.mu.Unlock()
	return nil
}

// PUnsubscribe is the pattern analogue of Unsubscribe.
func (f *FanoutPubSub) PUnsubscribe(msgCh chan<- PubSubMessage, patterns ...string) error {
	f.mu.Lock()
	emptied := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if f.psubs.del(pattern, msgCh) {
			emptied = append(emptied, pattern)
		}
	}
	f.mu.Unlock()

	if len(emptied) == 0 {
		return nil
	}
	logDebugf(f.logger, "punsubscribed", map[string]interface{}{"patterns": emptied})
	return f.conn.PUnsubscribe(emptied)
}

// Ping pings the underlying connection; valid while subscriptions are
// live since PING is in the Pub/Sub allowlist.
func (f *FanoutPubSub) Ping() error {
	_, err := f.conn.Ping()
	return err
}

// Close closes the underlying Conn. Channels passed to Subscribe/
// PSubscribe are left open for the caller to close; they simply stop
// receiving messages.
func (f *FanoutPubSub) Close() error {
	return f.conn.Close()
}
