package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/wire"
)

const forwardQueue = 256

// Forwarder publishes projected clouds as JSON datagrams. Publish never
// blocks; clouds are dropped when the send queue is full.
type Forwarder struct {
	conn        io.WriteCloser
	address     string
	queue       chan []byte
	logInterval time.Duration

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewForwarder dials addr ("host:port") over UDP.
func NewForwarder(addr string, logInterval time.Duration) (*Forwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return NewForwarderConn(conn, addr, logInterval), nil
}

// NewForwarderConn wraps an existing connection.
func NewForwarderConn(conn io.WriteCloser, addr string, logInterval time.Duration) *Forwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		address:     addr,
		queue:       make(chan []byte, forwardQueue),
		logInterval: logInterval,
		done:        make(chan struct{}),
	}
}

// Start runs the send loop until ctx is done or Close is called.
func (f *Forwarder) Start(ctx context.Context) {
	monitoring.Logf("Forwarding clouds to %s", f.address)
	go func() {
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()
		var lastErr error
		var failedSince int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case pkt := <-f.queue:
				if _, err := f.conn.Write(pkt); err != nil {
					f.failed.Add(1)
					failedSince++
					lastErr = err
					continue
				}
				f.sent.Add(1)
			case <-ticker.C:
				if failedSince > 0 {
					monitoring.Logf("Failed to forward %d clouds (latest: %v)", failedSince, lastErr)
					failedSince, lastErr = 0, nil
				}
			}
		}
	}()
}

// Publish encodes c and queues it for sending.
func (f *Forwarder) Publish(_ context.Context, c radar.Cloud) error {
	pkt, err := wire.Marshal(wire.NewCloudMessage(c))
	if err != nil {
		return err
	}
	if len(pkt) > maxDatagram {
		f.dropped.Add(1)
		return fmt.Errorf("network: cloud of %d points exceeds datagram size", c.Len())
	}
	select {
	case f.queue <- pkt:
	default:
		f.dropped.Add(1)
	}
	return nil
}

// Sent returns the number of clouds written to the socket.
func (f *Forwarder) Sent() int64 { return f.sent.Load() }

// Dropped returns the number of clouds discarded before sending.
func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }

// Failed returns the number of socket writes that failed.
func (f *Forwarder) Failed() int64 { return f.failed.Load() }

// Close stops the send loop and closes the connection.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
