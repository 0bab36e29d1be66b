package frames

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/timeutil"
)

const (
	// DefaultCapacity is the number of samples kept per frame pair.
	DefaultCapacity = 100
	// DefaultMaxAge is how far a sample may be from the requested time.
	DefaultMaxAge = 500 * time.Millisecond
)

type pairKey struct {
	parent, child string
}

// Buffer stores recent transforms per parent/child pair and answers
// time-indexed pose queries. It implements Resolver and is safe for
// concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	samples  map[pairKey][]Transform // ordered by Stamp
	static   map[pairKey]Transform
	changed  chan struct{}
	capacity int
	maxAge   time.Duration
	clock    timeutil.Clock
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithCapacity sets the number of samples kept per pair.
func WithCapacity(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithMaxAge sets the largest accepted distance between a sample stamp and
// the requested time.
func WithMaxAge(d time.Duration) BufferOption {
	return func(b *Buffer) {
		if d > 0 {
			b.maxAge = d
		}
	}
}

// WithClock sets the clock used to stamp transforms that arrive without one.
func WithClock(c timeutil.Clock) BufferOption {
	return func(b *Buffer) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBuffer creates an empty Buffer.
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{
		samples:  make(map[pairKey][]Transform),
		static:   make(map[pairKey]Transform),
		changed:  make(chan struct{}),
		capacity: DefaultCapacity,
		maxAge:   DefaultMaxAge,
		clock:    timeutil.RealClock{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Set stores a transform and wakes any Resolve waiting on it. A zero stamp
// is replaced with the current time.
func (b *Buffer) Set(tf Transform) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	if tf.Stamp.IsZero() {
		tf.Stamp = b.clock.Now()
	}

	key := pairKey{tf.Parent, tf.Child}

	b.mu.Lock()
	defer b.mu.Unlock()

	if tf.Static {
		b.static[key] = tf
	} else {
		s := b.samples[key]
		i := sort.Search(len(s), func(i int) bool { return s[i].Stamp.After(tf.Stamp) })
		s = append(s, Transform{})
		copy(s[i+1:], s[i:])
		s[i] = tf
		if len(s) > b.capacity {
			s = s[len(s)-b.capacity:]
		}
		b.samples[key] = s
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// Resolve returns the pose of source in target at time at, waiting for a
// suitable sample until ctx is done. The pair may have been published in
// either direction.
func (b *Buffer) Resolve(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error) {
	if source == target {
		return radar.IdentityPose(), nil
	}
	for {
		b.mu.RLock()
		pose, found, known := b.lookupLocked(source, target, at)
		changed := b.changed
		b.mu.RUnlock()

		if found {
			return pose, nil
		}

		select {
		case <-ctx.Done():
			if !known {
				return radar.SensorPose{}, fmt.Errorf("%w: %s -> %s", ErrNoTransform, source, target)
			}
			return radar.SensorPose{}, fmt.Errorf("%w: %s -> %s at %s", ErrTransformTimeout, source, target, at.Format(time.RFC3339Nano))
		case <-changed:
		}
	}
}

// Latest returns the most recent transform stored for the pair.
func (b *Buffer) Latest(parent, child string) (Transform, bool) {
	key := pairKey{parent, child}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if tf, ok := b.static[key]; ok {
		return tf, true
	}
	s := b.samples[key]
	if len(s) == 0 {
		return Transform{}, false
	}
	return s[len(s)-1], true
}

// Len returns the number of stored samples across all pairs, static
// transforms included.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.static)
	for _, s := range b.samples {
		n += len(s)
	}
	return n
}

// lookupLocked finds a sample for source in target. known reports whether
// the pair was ever seen in either direction.
func (b *Buffer) lookupLocked(source, target string, at time.Time) (pose radar.SensorPose, found, known bool) {
	if tf, ok, seen := b.sampleLocked(pairKey{parent: target, child: source}, at); ok {
		return tf.Pose(), true, true
	} else if seen {
		known = true
	}
	if tf, ok, seen := b.sampleLocked(pairKey{parent: source, child: target}, at); ok {
		return invert(tf.Pose()), true, true
	} else if seen {
		known = true
	}
	return radar.SensorPose{}, false, known
}

func (b *Buffer) sampleLocked(key pairKey, at time.Time) (tf Transform, found, seen bool) {
	if st, ok := b.static[key]; ok {
		return st, true, true
	}
	s := b.samples[key]
	if len(s) == 0 {
		return Transform{}, false, false
	}
	if at.IsZero() {
		return s[len(s)-1], true, true
	}

	// Nearest sample on either side of at.
	i := sort.Search(len(s), func(i int) bool { return !s[i].Stamp.Before(at) })
	best := -1
	var bestGap time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(s) {
			continue
		}
		gap := s[j].Stamp.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if best < 0 || gap < bestGap {
			best, bestGap = j, gap
		}
	}
	if bestGap > b.maxAge {
		return Transform{}, false, true
	}
	return s[best], true, true
}
