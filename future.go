package radix

import (
	"time"

	"github.com/lattice-db/radix/resp/resp2"
)

// Future is the handle returned by an asynchronous send: the caller may
// either block on Reply immediately (turning the call into a synchronous
// one) or stash the Future and collect it later.
type Future struct {
	ch chan replyOrErr
}

type replyOrErr struct {
	v   resp2.Value
	err error
}

func newFuture() *Future {
	return &Future{ch: make(chan replyOrErr, 1)}
}

func (f *Future) complete(v resp2.Value, err error) {
	f.ch <- replyOrErr{v: v, err: err}
}

// Reply blocks until the command's reply has arrived (or the connection
// fails) and returns it. It is safe to call exactly once.
func (f *Future) Reply() (resp2.Value, error) {
	r := <-f.ch
	return r.v, r.err
}

// ReplyTimeout is Reply bounded by d: if no reply arrives within d it
// returns ErrTimeout instead of blocking further. The pending request is
// left outstanding — a reply that arrives afterward is simply dropped into
// f's buffered channel and never collected. d <= 0 means no bound.
func (f *Future) ReplyTimeout(d time.Duration) (resp2.Value, error) {
	if d <= 0 {
		return f.Reply()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case r := <-f.ch:
		return r.v, r.err
	case <-t.C:
		return resp2.Value{}, ErrTimeout.New("reply not received within %s", d)
	}
}
