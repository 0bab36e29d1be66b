package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/wire"
)

const (
	targetsLine = `{"type":"targets","frame_id":"radar","stamp":1700000000.5,"targets":[{"target_id":0,"snr":20,"range":8,"speed":-0.4,"azimuth":5,"elevation":0}]}`
	egoLine     = `{"type":"ego_velocity","stamp":1700000000.4,"linear":{"x":1.5,"y":0,"z":0}}`
)

type recorder struct {
	mu      sync.Mutex
	batches []radar.Batch
	egos    []radar.EgoVelocity
	tfs     []frames.Transform
}

func (r *recorder) HandleBatch(_ context.Context, b radar.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) HandleEgoVelocity(v radar.EgoVelocity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.egos = append(r.egos, v)
}

func (r *recorder) HandleTransform(tf frames.Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tfs = append(r.tfs, tf)
	return nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches), len(r.egos)
}

func TestListener_HandleDatagramSplitsLines(t *testing.T) {
	rec := &recorder{}
	l := NewListener(ListenerConfig{Handler: rec})

	err := l.HandleDatagram(context.Background(), []byte(egoLine+"\n\n"+targetsLine+"\n"))
	require.NoError(t, err)

	batches, egos := rec.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, egos)
	assert.Equal(t, Stats{Datagrams: 1, Bytes: int64(len(egoLine) + len(targetsLine) + 3), Messages: 2}, l.Stats())
}

func TestListener_HandleDatagramKeepsGoingAfterBadLine(t *testing.T) {
	rec := &recorder{}
	l := NewListener(ListenerConfig{Handler: rec})

	err := l.HandleDatagram(context.Background(), []byte("not json\n"+targetsLine))
	require.Error(t, err)

	batches, _ := rec.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, int64(1), l.Stats().Errors)
}

func TestListener_StartReadsUntilCancelled(t *testing.T) {
	rec := &recorder{}
	sock := NewMockSocket([]byte(egoLine), []byte(targetsLine))
	sock.ReadError = errors.New("transient")
	factory := &MockSocketFactory{Socket: sock}
	l := NewListener(ListenerConfig{Address: "127.0.0.1:9999", RcvBuf: 1024, Handler: rec, Sockets: factory})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Start(ctx) }()

	require.Eventually(t, func() bool {
		b, e := rec.counts()
		return b == 1 && e == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.True(t, sock.Closed())
	assert.Equal(t, 1024, sock.ReadBufferSize)
	require.Len(t, factory.Addrs, 1)
	assert.Equal(t, 9999, factory.Addrs[0].Port)
}

func TestListener_StartErrors(t *testing.T) {
	assert.Error(t, NewListener(ListenerConfig{}).Start(context.Background()), "no handler")

	factory := &MockSocketFactory{Err: errors.New("address in use")}
	err := NewListener(ListenerConfig{Handler: &recorder{}, Sockets: factory}).Start(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

type captureConn struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
	closed bool
}

func (c *captureConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *captureConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func testCloud() radar.Cloud {
	return radar.Cloud{
		FrameID:   "radar",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Points:    []radar.OutputPoint{{TargetID: 0, X: 1, Y: 2, Z: 0, Speed: 0.1, SNR: 12, Range: 2.2}},
	}
}

func TestForwarder_SendsCloudMessages(t *testing.T) {
	conn := &captureConn{}
	f := NewForwarderConn(conn, "test", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	require.NoError(t, f.Publish(ctx, testCloud()))
	require.Eventually(t, func() bool { return conn.count() == 1 }, time.Second, time.Millisecond)

	m, err := wire.ParseMessage(bytes.TrimSpace(conn.writes[0]))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeCloud, m.Type)
	c, err := m.Cloud()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), f.Sent())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.True(t, conn.closed)
}

func TestForwarder_DropsWhenQueueFull(t *testing.T) {
	f := NewForwarderConn(&captureConn{}, "test", time.Hour)
	for i := 0; i < forwardQueue+5; i++ {
		require.NoError(t, f.Publish(context.Background(), testCloud()))
	}
	assert.Equal(t, int64(5), f.Dropped())
}

func TestForwarder_CountsWriteFailures(t *testing.T) {
	conn := &captureConn{err: errors.New("unreachable")}
	f := NewForwarderConn(conn, "test", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	require.NoError(t, f.Publish(ctx, testCloud()))
	require.Eventually(t, func() bool { return f.Failed() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, f.Sent())
}

func TestNewForwarder_BadAddress(t *testing.T) {
	_, err := NewForwarder("not an address", time.Second)
	assert.Error(t, err)
}

var _ net.Error = timeoutError{}
