package radix

import "sync"

// MessageReceiver receives a message published to a subscribed channel.
type MessageReceiver func(channel string, payload []byte)

// PatternMessageReceiver receives a message published to a channel matching
// a subscribed pattern; channel is the concrete channel name the publish
// targeted, not the pattern itself.
type PatternMessageReceiver func(pattern, channel string, payload []byte)

// OnSubscribe is invoked once the server confirms a channel/pattern
// subscription via its push frame. count is the total subscription count
// across both channels and patterns.
type OnSubscribe func(name string, count int)

// OnUnsubscribe is invoked once the server confirms a channel/pattern
// unsubscription via its push frame.
type OnUnsubscribe func(name string, count int)

type channelEntry struct {
	name          string
	onMessage     MessageReceiver
	onSubscribe   OnSubscribe
	onUnsubscribe OnUnsubscribe
}

type patternEntry struct {
	name          string
	onMessage     PatternMessageReceiver
	onSubscribe   OnSubscribe
	onUnsubscribe OnUnsubscribe
}

// tracker is the per-connection subscription tracker: a dual mapping of
// channel name/pattern to its entry, reflecting server-confirmed state
// only — entries are inserted when the matching subscribe/psubscribe push
// frame arrives, not when the request is made, and removed when the
// matching unsubscribe/punsubscribe push frame arrives.
type tracker struct {
	mu       sync.RWMutex
	channels map[string]*channelEntry
	patterns map[string]*patternEntry
}

func newTracker() *tracker {
	return &tracker{
		channels: map[string]*channelEntry{},
		patterns: map[string]*patternEntry{},
	}
}

// isSubscribed is derived, never tracked as an independent flag: a
// connection is subscribed iff its tracker holds at least one channel or
// pattern entry.
func (t *tracker) isSubscribed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels) > 0 || len(t.patterns) > 0
}

func (t *tracker) addChannel(e *channelEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[e.name] = e
}

func (t *tracker) addPattern(e *patternEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns[e.name] = e
}

func (t *tracker) removeChannel(name string) *channelEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.channels[name]
	delete(t.channels, name)
	return e
}

func (t *tracker) removePattern(name string) *patternEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.patterns[name]
	delete(t.patterns, name)
	return e
}

// channelNames snapshots the currently held channel names, used by a bare
// (argument-less) Unsubscribe to determine what the server is expected to
// confirm.
func (t *tracker) channelNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.channels))
	for name := range t.channels {
		names = append(names, name)
	}
	return names
}

// patternNames is the pattern analogue of channelNames.
func (t *tracker) patternNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.patterns))
	for name := range t.patterns {
		names = append(names, name)
	}
	return names
}

func (t *tracker) channel(name string) *channelEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.channels[name]
}

func (t *tracker) pattern(name string) *patternEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.patterns[name]
}

// reset clears both maps without invoking any callback — used on RESET and
// on fatal teardown, where removal is not a logical unsubscribe and
// on_unsubscribe callbacks must not be synthesized for it.
func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = map[string]*channelEntry{}
	t.patterns = map[string]*patternEntry{}
}
