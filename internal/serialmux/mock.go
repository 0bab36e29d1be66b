package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory SerialPorter. Reads block until data is added
// or the port is closed; once closed, reads return io.EOF after the
// remaining data is drained.
type TestablePort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	read     bytes.Buffer
	written  bytes.Buffer
	closed   bool
	shortBy  int
	writeErr error

	// CloseError is returned by Close.
	CloseError error
}

// NewTestablePort returns a port preloaded with data.
func NewTestablePort(data string) *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	p.read.WriteString(data)
	return p
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.read.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.read.Len() == 0 {
		return 0, io.EOF
	}
	return p.read.Read(b)
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	n := len(b) - p.shortBy
	if n < 0 {
		n = 0
	}
	p.written.Write(b[:n])
	return n, nil
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// AddReadData queues data for Read.
func (p *TestablePort) AddReadData(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read.WriteString(data)
	p.cond.Broadcast()
}

// Written returns everything written so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// FailWrites makes subsequent writes return err.
func (p *TestablePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// ShortWrites makes subsequent writes report n fewer bytes than given.
func (p *TestablePort) ShortWrites(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shortBy = n
}
