package radix

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/radix/resp/resp2"
)

// pipeDialer returns a Dialer that hands out one end of a net.Pipe per
// dial, along with a channel of the matching server-side fakeServer for
// the test to drive.
func pipeDialer(servers chan *fakeServer) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		clientSide, serverSide := net.Pipe()
		servers <- newFakeServer(serverSide)
		return clientSide, nil
	}
}

func newTestPool(t *testing.T, minConns, maxConns int) (*Pool, chan *fakeServer) {
	t.Helper()
	servers := make(chan *fakeServer, 16)
	p, err := NewPool("test",
		WithTCPClient(pipeDialer(servers)),
		WithMinimumConnectionCount(minConns),
		WithMaximumConnectionCount(maxConns),
	)
	require.NoError(t, err)
	return p, servers
}

func bulk(s string) resp2.Value { return resp2.BulkStringValue([]byte(s)) }

func TestPoolLeasedConnectionCountStartsAtZero(t *testing.T) {
	p, _ := newTestPool(t, 1, 4)
	defer p.Close()
	assert.Equal(t, 0, p.LeasedConnectionCount())
}

func TestPoolReusesSingleLeaseAcrossSubscribeAndPSubscribe(t *testing.T) {
	p, servers := newTestPool(t, 1, 4)
	defer p.Close()

	var srv *fakeServer
	select {
	case srv = <-servers:
	case <-time.After(time.Second):
		t.Fatal("no connection dialed for minimum pool size")
	}

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		verb, args := srv.recvCommand(t)
		assert.Equal(t, "SUBSCRIBE", verb)
		assert.Equal(t, []string{"news"}, args)
		srv.send(pushFrame(bulk("subscribe"), bulk("news"), resp2.IntegerValue(1)))
	}()
	require.NoError(t, p.Subscribe([]string{"news"}, func(string, []byte) {}, nil, nil))
	requireWithin(t, time.Second, subDone)
	assert.Equal(t, 1, p.LeasedConnectionCount())

	psubDone := make(chan struct{})
	go func() {
		defer close(psubDone)
		verb, args := srv.recvCommand(t)
		assert.Equal(t, "PSUBSCRIBE", verb)
		assert.Equal(t, []string{"news.*"}, args)
		srv.send(pushFrame(bulk("psubscribe"), bulk("news.*"), resp2.IntegerValue(2)))
	}()
	require.NoError(t, p.PSubscribe([]string{"news.*"}, func(string, string, []byte) {}, nil, nil))
	requireWithin(t, time.Second, psubDone)
	// Reusing the same standing lease: still exactly one leased connection.
	assert.Equal(t, 1, p.LeasedConnectionCount())

	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		verb, args := srv.recvCommand(t)
		assert.Equal(t, "UNSUBSCRIBE", verb)
		assert.Equal(t, []string{"news"}, args)
		srv.send(pushFrame(bulk("unsubscribe"), bulk("news"), resp2.IntegerValue(1)))
	}()
	require.NoError(t, p.Unsubscribe([]string{"news"}))
	requireWithin(t, time.Second, unsubDone)
	// Still one pattern subscription live: lease is not released yet.
	assert.Equal(t, 1, p.LeasedConnectionCount())

	punsubDone := make(chan struct{})
	go func() {
		defer close(punsubDone)
		verb, args := srv.recvCommand(t)
		assert.Equal(t, "PUNSUBSCRIBE", verb)
		assert.Equal(t, []string{"news.*"}, args)
		srv.send(pushFrame(bulk("punsubscribe"), bulk("news.*"), resp2.IntegerValue(0)))
	}()
	require.NoError(t, p.PUnsubscribe([]string{"news.*"}))
	requireWithin(t, time.Second, punsubDone)
	assert.Equal(t, 0, p.LeasedConnectionCount())
}

func TestPoolUnsubscribeWithNoLeaseIsLocalNoOp(t *testing.T) {
	p, _ := newTestPool(t, 1, 4)
	defer p.Close()

	require.NoError(t, p.Unsubscribe(nil))
	require.NoError(t, p.PUnsubscribe(nil))
	assert.Equal(t, 0, p.LeasedConnectionCount())
}

func TestPoolDialSendsAuthThenSelect(t *testing.T) {
	servers := make(chan *fakeServer, 1)
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		srv := <-servers
		verb, args := srv.recvCommand(t)
		assert.Equal(t, "AUTH", verb)
		assert.Equal(t, []string{"hunter2"}, args)
		srv.send(resp2.SimpleStringValue("OK"))

		verb, args = srv.recvCommand(t)
		assert.Equal(t, "SELECT", verb)
		assert.Equal(t, []string{"3"}, args)
		srv.send(resp2.SimpleStringValue("OK"))
	}()

	p, err := NewPool("test",
		WithTCPClient(pipeDialer(servers)),
		WithMinimumConnectionCount(1),
		WithMaximumConnectionCount(1),
		WithConnectionPassword("hunter2"),
		WithDatabase(3),
	)
	require.NoError(t, err)
	defer p.Close()
	requireWithin(t, time.Second, handshakeDone)
}

func TestConnSendTimesOutWithoutServerReply(t *testing.T) {
	c, srv := newConnPipe()
	defer c.Close()
	go srv.recvCommand(t) // drain the write so it doesn't block on the pipe; no reply sent
	c.SetTimeouts(50*time.Millisecond, time.Second)

	_, err := c.Send("GET", "k")
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, ErrTimeout))
}

func TestPoolExhaustionReturnsError(t *testing.T) {
	p, servers := newTestPool(t, 0, 1)
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv := <-servers
		verb, _ := srv.recvCommand(t)
		assert.Equal(t, "PING", verb)
		srv.send(resp2.SimpleStringValue("PONG"))
	}()
	_, err := p.Send("PING")
	require.NoError(t, err)
	requireWithin(t, time.Second, done)

	c, err := p.lease(context.Background())
	require.NoError(t, err)
	defer p.release(c)
	_, err = p.lease(context.Background())
	require.Error(t, err)
}
