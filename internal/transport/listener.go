package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpreston/gatekeeper/internal/models"
)

const (
	loginReadTimeout  = 5 * time.Second
	maxLoginLineBytes = 256
)

// Admitter runs one intercepted login attempt through the admission
// pipeline. Implemented by services.AdmissionService.
type Admitter interface {
	Admit(ctx context.Context, attempt models.Attempt) models.Decision
}

// Listener intercepts the login-identity message of every inbound TCP
// connection and hands it to the admitter. The wire format is a single text
// line: the claimed name, optionally followed by a claimed profile id.
// Released connections are proxied byte-for-byte to the upstream server.
type Listener struct {
	listenAddr   string
	upstreamAddr *net.TCPAddr
	admitter     Admitter
	logger       *slog.Logger

	mu      sync.Mutex
	ln      *net.TCPListener
	closing atomic.Bool
}

// NewListener creates a listener that admits connections for upstreamAddr.
func NewListener(listenAddr, upstreamAddr string, admitter Admitter, logger *slog.Logger) (*Listener, error) {
	raddr, err := net.ResolveTCPAddr("tcp", upstreamAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream address %q: %w", upstreamAddr, err)
	}
	return &Listener{
		listenAddr:   listenAddr,
		upstreamAddr: raddr,
		admitter:     admitter,
		logger:       logger,
	}, nil
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called. Each connection is handled on its own goroutine, so one attempt's
// slow verification never delays another's fast-path checks.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	laddr, err := net.ResolveTCPAddr("tcp", l.listenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", l.listenAddr, err)
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.listenAddr, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	l.logger.Info("intercepting logins", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if l.closing.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go l.handle(ctx, conn)
	}
}

// Addr returns the bound address, or nil before ListenAndServe.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting new connections. Connections already released keep
// flowing; queued ones remain owned by the queue.
func (l *Listener) Close() error {
	if l.closing.Swap(true) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, conn *net.TCPConn) {
	_ = conn.SetReadDeadline(time.Now().Add(loginReadTimeout))

	reader := bufio.NewReaderSize(conn, maxLoginLineBytes)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
		// Nothing parseable arrived before the peer vanished or the
		// deadline hit; there is no attempt to reject.
		l.logger.Debug("login read failed",
			slog.String("remote_addr", conn.RemoteAddr().String()),
			slog.Any("error", err))
		_ = conn.Close()
		return
	}

	name, profileID := parseLoginLine(line, err == nil)
	event := newLoginEvent(conn, reader, l.upstreamAddr, profileID, l.logger)

	// The admitter owns the outcome from here: it either queues the event
	// for a later drain tick or rejects and closes it.
	l.admitter.Admit(ctx, models.Attempt{
		Name:      name,
		ProfileID: profileID,
		Event:     event,
	})
}

// parseLoginLine extracts "name [profileID]". An overlong or overstuffed
// line yields an empty name, which the verifier rejects as malformed, so
// garbage still flows through the normal rejection path.
func parseLoginLine(line string, complete bool) (string, string) {
	if !complete {
		return "", ""
	}
	fields := strings.Fields(strings.TrimSpace(line))
	switch len(fields) {
	case 1:
		return fields[0], ""
	case 2:
		return fields[0], fields[1]
	default:
		return "", ""
	}
}
