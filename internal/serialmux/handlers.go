package serialmux

import (
	"context"
	"errors"

	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/wire"
)

// HandleEvent decodes one line from the radar and passes it to h. Lines that
// are not recognised messages are logged and ignored.
func HandleEvent(ctx context.Context, h wire.Handler, line string) error {
	m, err := wire.ParseLine(line)
	if errors.Is(err, wire.ErrUnknownMessage) {
		monitoring.Debugf("serialmux: ignoring line: %s", line)
		return nil
	}
	if err != nil {
		return err
	}
	return wire.Dispatch(ctx, h, m)
}

// Consume subscribes to m and handles every line until ctx is done or the
// subscription closes. Handler errors are logged and do not stop the loop.
func Consume(ctx context.Context, m Mux, h wire.Handler) {
	id, lines := m.Subscribe()
	defer m.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := HandleEvent(ctx, h, line); err != nil {
				monitoring.Logf("serialmux: failed to handle line: %v", err)
			}
		}
	}
}
