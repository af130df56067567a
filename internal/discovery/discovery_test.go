package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// sendDatagram fires one UDP datagram at the scan port on loopback.
func sendDatagram(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.Dial("udp4", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

// freePort grabs an ephemeral UDP port number that is free right now.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestScanFindsController(t *testing.T) {
	port := freePort(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Give the scanner a moment to bind, then advertise a few times.
		for i := 0; i < 5; i++ {
			time.Sleep(50 * time.Millisecond)
			sendDatagram(t, port, Token)
		}
	}()

	addr, err := Scan(port, 2*time.Second, zap.NewNop())
	<-done
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr)
}

func TestScanRejectsWrongToken(t *testing.T) {
	port := freePort(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sendDatagram(t, port, "SOMETHING_ELSE_ENTIRELY")
	}()

	_, err := Scan(port, 500*time.Millisecond, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoServerFound)
}

func TestScanTimesOut(t *testing.T) {
	port := freePort(t)

	start := time.Now()
	_, err := Scan(port, 100*time.Millisecond, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoServerFound)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBroadcasterStartStop(t *testing.T) {
	b := NewBroadcaster(freePort(t), zap.NewNop())
	require.NoError(t, b.Start())

	b.SetScanExpected(true)
	assert.Equal(t, ScanInterval, b.interval())
	b.SetScanExpected(false)
	assert.Equal(t, Interval, b.interval())

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
