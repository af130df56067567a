package conn

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"softkvm/internal/protocol"
)

// startListener spins up a Listener on an ephemeral port and returns it with
// the port it bound.
func startListener(t *testing.T, cb Callbacks) (*Listener, int) {
	t.Helper()

	// Grab a free port first; the Listener API takes a fixed port number.
	scratch, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := scratch.Addr().(*net.TCPAddr).Port
	scratch.Close()

	l := NewListener(port, cb, zap.NewNop())
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)
	return l, port
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestListenerDeliversEventsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.Event

	cb := Callbacks{OnEvent: func(ev protocol.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}}
	_, port := startListener(t, cb)

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()

	want := []protocol.Event{
		protocol.KeyPress(90),
		protocol.MouseMove(3, -3),
		protocol.MouseDown(protocol.ButtonLeft),
		protocol.MouseUp(protocol.ButtonLeft),
		protocol.KeyRelease(90),
	}
	for _, ev := range want {
		_, err := c.Write(protocol.Encode(ev))
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, "events not delivered")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestListenerRejectsSecondPeer(t *testing.T) {
	l, port := startListener(t, Callbacks{})

	first, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer first.Close()

	waitFor(t, l.Connected, "first peer not connected")

	second, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer second.Close()

	// The intruder is closed promptly: its reads hit EOF.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "second connection should be closed by the listener")

	// The first session is unaffected.
	assert.True(t, l.Connected())
	require.NoError(t, l.Send(protocol.ControlAcquire()))

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	line := make([]byte, 64)
	n, err := first.Read(line)
	require.NoError(t, err)
	assert.Equal(t, "event:control_acquire\n", string(line[:n]))
}

func TestListenerReportsPeerLoss(t *testing.T) {
	lost := make(chan struct{}, 1)
	l, port := startListener(t, Callbacks{OnLost: func() { lost <- struct{}{} }})

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	waitFor(t, l.Connected, "peer not connected")

	c.Close()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost not delivered")
	}
	assert.False(t, l.Connected())
	assert.Equal(t, StateListening, l.State())
}

func TestListenerSendWithoutPeer(t *testing.T) {
	l, _ := startListener(t, Callbacks{})
	assert.ErrorIs(t, l.Send(protocol.ControlAcquire()), ErrNoPeer)
}

func TestListenerStopUnblocksAccept(t *testing.T) {
	l, _ := startListener(t, Callbacks{})

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock the accept loop")
	}
	assert.Equal(t, StateIdle, l.State())
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.Event
	cb := Callbacks{OnEvent: func(ev protocol.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}}
	_, port := startListener(t, cb)

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("event:mouse_move,dx:abc,dy:5\nevent:mouse_move,dx:1,dy:2\n"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "well-formed frame after a malformed one was not processed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, protocol.MouseMove(1, 2), got[0])
}

func TestDialerReceivesAndReportsLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	var mu sync.Mutex
	var got []protocol.Event
	lost := make(chan struct{}, 1)
	d := NewDialer(Callbacks{
		OnEvent: func(ev protocol.Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		},
		OnLost: func() { lost <- struct{}{} },
	}, zap.NewNop())
	require.NoError(t, d.Connect("127.0.0.1", port))
	defer d.Stop()

	server := <-accepted
	_, err = server.Write(protocol.Encode(protocol.ControlAcquire()))
	require.NoError(t, err)
	_, err = server.Write(protocol.Encode(protocol.MouseScroll(-120)))
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "dialer did not deliver events")

	// Forcibly close the server side; the dialer must report loss.
	server.Close()
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost not delivered after server close")
	}
	assert.False(t, d.Connected())
}

func TestDialerConnectFailure(t *testing.T) {
	// Grab a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := NewDialer(Callbacks{}, zap.NewNop())
	assert.Error(t, d.Connect("127.0.0.1", port))
	assert.Equal(t, StateIdle, d.State())
}

func TestConcurrentSendsStayFramed(t *testing.T) {
	l, port := startListener(t, Callbacks{})

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()

	waitFor(t, l.Connected, "listener never saw the client")

	// Hammer Send from several goroutines; every frame on the wire must
	// still decode cleanly, with no interleaved bytes.
	const workers = 8
	const perWorker = 50

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		vk := 0x41 + w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				if err := l.Send(protocol.KeyPress(vk)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var splitter protocol.Splitter
	decoded := 0
	buf := make([]byte, 4096)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for decoded < workers*perWorker {
		n, err := c.Read(buf)
		require.NoError(t, err)
		for _, frame := range splitter.Push(buf[:n]) {
			ev, err := protocol.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, protocol.TypeKeyPress, ev.Type)
			decoded++
		}
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, workers*perWorker, decoded)
}

// Stop can finish its close pass between Accept returning a connection and
// the accept loop adopting it. The late connection must be discarded, not
// adopted, or Stop waits forever on a receive loop nothing will close.
func TestStopDiscardsConnAcceptedDuringShutdown(t *testing.T) {
	l, port := startListener(t, Callbacks{})

	// Hold the adoption lock so the accept loop parks between Accept and
	// adoption while Stop's close pass queues up behind it.
	l.mu.Lock()

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	l.mu.Unlock()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after a connection raced shutdown")
	}
	assert.False(t, l.Connected())
}
