package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/wire"
)

const (
	// DefaultPort is the UDP port radar messages arrive on.
	DefaultPort = 7700
	// DefaultRcvBuf is the socket receive buffer requested at start.
	DefaultRcvBuf = 4 << 20

	maxDatagram  = 64 << 10
	readDeadline = 100 * time.Millisecond
)

// Stats counts listener traffic.
type Stats struct {
	Datagrams int64 `json:"datagrams"`
	Bytes     int64 `json:"bytes"`
	Messages  int64 `json:"messages"`
	Errors    int64 `json:"errors"`
}

type counters struct {
	datagrams atomic.Int64
	bytes     atomic.Int64
	messages  atomic.Int64
	errors    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Datagrams: c.datagrams.Load(),
		Bytes:     c.bytes.Load(),
		Messages:  c.messages.Load(),
		Errors:    c.errors.Load(),
	}
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     wire.Handler
	// Sockets defaults to RealSocketFactory.
	Sockets SocketFactory
}

// Listener receives newline-delimited JSON messages over UDP and dispatches
// them to a wire.Handler. A datagram may carry several messages.
type Listener struct {
	cfg   ListenerConfig
	stats counters
}

// NewListener returns a listener for cfg with defaults filled in.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = DefaultRcvBuf
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Sockets == nil {
		cfg.Sockets = RealSocketFactory{}
	}
	return &Listener{cfg: cfg}
}

// Stats returns a snapshot of the listener counters.
func (l *Listener) Stats() Stats { return l.stats.snapshot() }

// Start listens until ctx is done. It returns ctx.Err() on cancellation.
func (l *Listener) Start(ctx context.Context) error {
	if l.cfg.Handler == nil {
		return errors.New("network: listener has no handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Sockets.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
		monitoring.Logf("Warning: failed to set UDP receive buffer to %d: %v", l.cfg.RcvBuf, err)
	}
	monitoring.Logf("UDP listener started on %s", conn.LocalAddr())

	go l.logStats(ctx)

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			monitoring.Logf("UDP listener stopping: %v", ctx.Err())
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		if err := l.HandleDatagram(ctx, buf[:n]); err != nil {
			monitoring.Logf("Error handling datagram from %v: %v", from, err)
		}
	}
}

// HandleDatagram dispatches every message in one datagram. It keeps going
// after a bad line and returns the first error seen.
func (l *Listener) HandleDatagram(ctx context.Context, datagram []byte) error {
	l.stats.datagrams.Add(1)
	l.stats.bytes.Add(int64(len(datagram)))

	var first error
	for _, line := range bytes.Split(datagram, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		l.stats.messages.Add(1)
		if err := wire.DispatchLine(ctx, l.cfg.Handler, line); err != nil {
			l.stats.errors.Add(1)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	var last Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := l.Stats()
			if s == last {
				continue
			}
			monitoring.Logf("UDP listener: %d datagrams, %d messages, %d errors",
				s.Datagrams-last.Datagrams, s.Messages-last.Messages, s.Errors-last.Errors)
			last = s
		}
	}
}
