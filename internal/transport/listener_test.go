package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpreston/gatekeeper/internal/models"
)

type capturedAttempt struct {
	attempt models.Attempt
}

// funcAdmitter lets each test script the admission outcome
type funcAdmitter struct {
	captured chan capturedAttempt
	decide   func(models.Attempt) models.Decision
}

func newFuncAdmitter(decide func(models.Attempt) models.Decision) *funcAdmitter {
	return &funcAdmitter{
		captured: make(chan capturedAttempt, 16),
		decide:   decide,
	}
}

func (a *funcAdmitter) Admit(_ context.Context, attempt models.Attempt) models.Decision {
	a.captured <- capturedAttempt{attempt: attempt}
	return a.decide(attempt)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startUpstream runs a loopback server that sends each accepted connection
// to the returned channel.
func startUpstream(t *testing.T) (*net.TCPAddr, chan *net.TCPConn, func()) {
	t.Helper()

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	conns := make(chan *net.TCPConn, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.AcceptTCP()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()

	cleanup := func() {
		ln.Close()
		<-done
	}
	return ln.Addr().(*net.TCPAddr), conns, cleanup
}

func startListener(t *testing.T, upstream *net.TCPAddr, admitter Admitter) (*Listener, *net.TCPAddr, func()) {
	t.Helper()

	l, err := NewListener("127.0.0.1:0", upstream.String(), admitter, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- l.ListenAndServe(ctx)
	}()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = l.Addr()
		return addr != nil
	}, time.Second, 5*time.Millisecond)

	cleanup := func() {
		cancel()
		assert.NoError(t, <-served)
	}
	return l, addr.(*net.TCPAddr), cleanup
}

func TestListener_RejectSendsMessageAndCloses(t *testing.T) {
	upstreamAddr, _, stopUpstream := startUpstream(t)
	defer stopUpstream()

	admitter := newFuncAdmitter(func(attempt models.Attempt) models.Decision {
		attempt.Event.Reject("The login queue is full. Try again shortly.")
		return models.Decision{Reason: models.ReasonQueueFull}
	})

	_, addr, stop := startListener(t, upstreamAddr, admitter)
	defer stop()

	client, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("Player123\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "The login queue is full. Try again shortly.\n", line)

	// Connection is closed after the message
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestListener_SilentRejectJustCloses(t *testing.T) {
	upstreamAddr, _, stopUpstream := startUpstream(t)
	defer stopUpstream()

	admitter := newFuncAdmitter(func(attempt models.Attempt) models.Decision {
		attempt.Event.Reject("")
		return models.Decision{Reason: models.ReasonRateLimited}
	})

	_, addr, stop := startListener(t, upstreamAddr, admitter)
	defer stop()

	client, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("Player123\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestListener_ReleaseReplaysLoginAndPipes(t *testing.T) {
	upstreamAddr, upstreamConns, stopUpstream := startUpstream(t)
	defer stopUpstream()

	admitter := newFuncAdmitter(func(models.Attempt) models.Decision {
		return models.Decision{Queued: true}
	})

	_, addr, stop := startListener(t, upstreamAddr, admitter)
	defer stop()

	client, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	// The client optimistically sends bytes after its login line; they must
	// arrive upstream after release, in order.
	_, err = client.Write([]byte("Player123 069a79f444e94726a5befca90e38aaf5\nping"))
	require.NoError(t, err)

	captured := <-admitter.captured
	assert.Equal(t, "Player123", captured.attempt.Name)
	assert.Equal(t, "069a79f444e94726a5befca90e38aaf5", captured.attempt.ProfileID)

	require.NoError(t, captured.attempt.Event.Release("Player123"))

	upstream := <-upstreamConns
	defer upstream.Close()

	upstream.SetReadDeadline(time.Now().Add(time.Second))
	reader := bufio.NewReader(upstream)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Player123 069a79f444e94726a5befca90e38aaf5\n", line)

	early := make([]byte, 4)
	_, err = io.ReadFull(reader, early)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(early))

	// Upstream to client direction
	_, err = upstream.Write([]byte("pong\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(time.Second))
	resp, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "pong\n", resp)
}

func TestListener_ClosedDetectionWhileQueued(t *testing.T) {
	upstreamAddr, _, stopUpstream := startUpstream(t)
	defer stopUpstream()

	admitter := newFuncAdmitter(func(models.Attempt) models.Decision {
		return models.Decision{Queued: true}
	})

	_, addr, stop := startListener(t, upstreamAddr, admitter)
	defer stop()

	client, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)

	_, err = client.Write([]byte("Player123\n"))
	require.NoError(t, err)

	captured := <-admitter.captured
	assert.False(t, captured.attempt.Event.Closed())

	client.Close()

	assert.Eventually(t, captured.attempt.Event.Closed, time.Second, 10*time.Millisecond)

	// A closed event refuses release
	assert.ErrorIs(t, captured.attempt.Event.Release("Player123"), models.ErrConnectionClosed)
}

func TestListener_GarbageLineBecomesEmptyName(t *testing.T) {
	upstreamAddr, _, stopUpstream := startUpstream(t)
	defer stopUpstream()

	admitter := newFuncAdmitter(func(attempt models.Attempt) models.Decision {
		attempt.Event.Reject("Invalid player name.")
		return models.Decision{Reason: models.ReasonMalformedName}
	})

	_, addr, stop := startListener(t, upstreamAddr, admitter)
	defer stop()

	client, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("way too many fields in this login line\n"))
	require.NoError(t, err)

	captured := <-admitter.captured
	assert.Empty(t, captured.attempt.Name)
}

func TestParseLoginLine(t *testing.T) {
	name, id := parseLoginLine("Player123\n", true)
	assert.Equal(t, "Player123", name)
	assert.Empty(t, id)

	name, id = parseLoginLine("Player123 abc\n", true)
	assert.Equal(t, "Player123", name)
	assert.Equal(t, "abc", id)

	name, _ = parseLoginLine("a b c\n", true)
	assert.Empty(t, name)

	name, _ = parseLoginLine("partial-with-no-newline", false)
	assert.Empty(t, name)
}
