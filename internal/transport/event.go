package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpreston/gatekeeper/internal/models"
)

// tcpLoginEvent is the TCP implementation of models.LoginEvent. It owns the
// client connection from interception until release or rejection. Bytes the
// client sent beyond the login line (buffered readahead or liveness-probe
// reads) are replayed to the upstream on release so nothing is lost.
type tcpLoginEvent struct {
	conn         *net.TCPConn
	reader       *bufio.Reader
	upstreamAddr *net.TCPAddr
	profileID    string
	logger       *slog.Logger

	closed   atomic.Bool
	released atomic.Bool

	earlyMu sync.Mutex
	early   []byte // bytes consumed by liveness probes while queued
}

func newLoginEvent(conn *net.TCPConn, reader *bufio.Reader, upstreamAddr *net.TCPAddr, profileID string, logger *slog.Logger) *tcpLoginEvent {
	return &tcpLoginEvent{
		conn:         conn,
		reader:       reader,
		upstreamAddr: upstreamAddr,
		profileID:    profileID,
		logger:       logger,
	}
}

func (e *tcpLoginEvent) RemoteAddr() string {
	return e.conn.RemoteAddr().String()
}

// Reject closes the connection, sending message first when non-empty.
// Safe to call at most once per event; later calls are no-ops.
func (e *tcpLoginEvent) Reject(message string) {
	if e.closed.Swap(true) {
		return
	}
	if message != "" {
		_ = e.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, _ = e.conn.Write([]byte(message + "\n"))
	}
	_ = e.conn.Close()
}

// Release dials the upstream server, replays the login line under name, and
// pipes bytes in both directions until either side closes.
func (e *tcpLoginEvent) Release(name string) error {
	if e.closed.Load() {
		return models.ErrConnectionClosed
	}
	if e.released.Swap(true) {
		return nil
	}

	upstream, err := net.DialTCP("tcp", nil, e.upstreamAddr)
	if err != nil {
		e.closed.Store(true)
		_ = e.conn.Close()
		return fmt.Errorf("upstream dial failed: %w", err)
	}

	line := name
	if e.profileID != "" {
		line += " " + e.profileID
	}
	_ = upstream.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := upstream.Write([]byte(line + "\n")); err != nil {
		e.closed.Store(true)
		_ = e.conn.Close()
		_ = upstream.Close()
		return fmt.Errorf("failed to replay login upstream: %w", err)
	}
	_ = upstream.SetWriteDeadline(time.Time{})
	_ = e.conn.SetReadDeadline(time.Time{})

	go e.pipe(upstream)
	return nil
}

// Closed reports whether the client hung up. While the event sits in the
// queue this is a zero-wait liveness probe; any byte it happens to read is
// kept and replayed on release.
func (e *tcpLoginEvent) Closed() bool {
	if e.closed.Load() {
		return true
	}
	if e.released.Load() {
		return false
	}

	_ = e.conn.SetReadDeadline(time.Now())
	buf := make([]byte, 1)
	n, err := e.conn.Read(buf)
	_ = e.conn.SetReadDeadline(time.Time{})

	if n > 0 {
		e.earlyMu.Lock()
		e.early = append(e.early, buf[:n]...)
		e.earlyMu.Unlock()
	}
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}

	e.closed.Store(true)
	_ = e.conn.Close()
	return true
}

func (e *tcpLoginEvent) pipe(upstream *net.TCPConn) {
	defer e.closed.Store(true)
	defer e.conn.Close()
	defer upstream.Close()

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	go func() {
		_, _ = io.Copy(upstream, e.clientReader())
		finish()
	}()
	go func() {
		_, _ = io.Copy(e.conn, upstream)
		finish()
	}()

	<-done
}

// clientReader stitches already-received bytes back in front of the live
// connection: bufio readahead first, then probe bytes, then the socket.
func (e *tcpLoginEvent) clientReader() io.Reader {
	var readers []io.Reader
	if n := e.reader.Buffered(); n > 0 {
		buffered, _ := e.reader.Peek(n)
		readers = append(readers, bytes.NewReader(append([]byte(nil), buffered...)))
	}
	e.earlyMu.Lock()
	if len(e.early) > 0 {
		readers = append(readers, bytes.NewReader(e.early))
	}
	e.earlyMu.Unlock()
	readers = append(readers, e.conn)
	return io.MultiReader(readers...)
}
