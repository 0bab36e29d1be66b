package wire

import (
	"context"
	"fmt"

	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/radar"
)

// Handler consumes decoded input messages.
type Handler interface {
	HandleBatch(ctx context.Context, b radar.Batch) error
	HandleEgoVelocity(v radar.EgoVelocity)
	HandleTransform(tf frames.Transform) error
}

// Dispatch routes m to the matching Handler method. Clouds are output only
// and are rejected with ErrUnknownMessage.
func Dispatch(ctx context.Context, h Handler, m Message) error {
	switch m.Type {
	case TypeTargets:
		b, err := m.Batch()
		if err != nil {
			return err
		}
		return h.HandleBatch(ctx, b)
	case TypeEgoVelocity:
		v, err := m.EgoVelocity()
		if err != nil {
			return err
		}
		h.HandleEgoVelocity(v)
		return nil
	case TypeTransform:
		tf, err := m.Transform()
		if err != nil {
			return err
		}
		return h.HandleTransform(tf)
	default:
		return fmt.Errorf("%w: cannot consume %q", ErrUnknownMessage, m.Type)
	}
}

// DispatchLine parses line and dispatches it.
func DispatchLine(ctx context.Context, h Handler, line []byte) error {
	m, err := ParseMessage(line)
	if err != nil {
		return err
	}
	return Dispatch(ctx, h, m)
}
