package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory opens listening sockets.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealSocketFactory opens sockets with net.ListenUDP.
type RealSocketFactory struct{}

func (RealSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockSocket replays a fixed list of datagrams, then reports read timeouts
// until closed.
type MockSocket struct {
	mu sync.Mutex

	Datagrams [][]byte
	next      int

	// ReadError is returned once by the next ReadFromUDP if set.
	ReadError error
	// SetReadBufferError is returned by SetReadBuffer if set.
	SetReadBufferError error

	ReadBufferSize int
	closed         bool
	local          *net.UDPAddr
}

// NewMockSocket returns a socket that yields each datagram in order.
func NewMockSocket(datagrams ...[]byte) *MockSocket {
	return &MockSocket{
		Datagrams: datagrams,
		local:     &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort},
	}
}

func (m *MockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.next >= len(m.Datagrams) {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	d := m.Datagrams[m.next]
	m.next++
	return copy(b, d), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000}, nil
}

func (m *MockSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockSocket) SetReadDeadline(time.Time) error { return nil }

func (m *MockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSocket) LocalAddr() net.Addr { return m.local }

// Drained reports whether every datagram has been read.
func (m *MockSocket) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next >= len(m.Datagrams)
}

// Closed reports whether Close was called.
func (m *MockSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockSocketFactory hands out a single MockSocket.
type MockSocketFactory struct {
	Socket *MockSocket
	Err    error
	Addrs  []*net.UDPAddr
}

func (f *MockSocketFactory) ListenUDP(_ string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Addrs = append(f.Addrs, laddr)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
