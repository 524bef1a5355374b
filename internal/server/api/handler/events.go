package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
)

// Events returns a stream handler pushing one JSON event per line until the
// client hangs up. State and firmware events are delivered reliably; input
// snapshots are thinned when the client cannot keep up.
func Events(core *daemon.Core, inputBuffer int) api.StreamHandlerFunc {
	return func(conn net.Conn, params map[string]string, logger *slog.Logger) error {
		defer conn.Close()

		serial := params["serial"]
		s, err := core.Lookup(serial)
		if err != nil {
			return err
		}
		sub, err := core.Subscribe(serial, inputBuffer)
		if err != nil {
			return err
		}
		defer core.Unsubscribe(sub)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The client signals disconnect by closing its side; nothing else is
		// expected on the read half once streaming starts.
		go func() {
			buf := make([]byte, 1)
			for {
				if _, err := conn.Read(buf); err != nil {
					cancel()
					return
				}
			}
		}()

		enc := json.NewEncoder(conn)
		if err := enc.Encode(daemon.Event{
			Type:   "state",
			Handle: s.Handle(),
			State:  s.State().String(),
		}); err != nil {
			return err
		}

		logger.Debug("event stream started", slog.String("handle", serial))
		for {
			ev, err := sub.Next(ctx)
			if errors.Is(err, daemon.ErrSubscriberClosed) || errors.Is(err, context.Canceled) {
				logger.Debug("event stream closed",
					slog.String("handle", serial),
					slog.Uint64("droppedInputs", sub.Dropped()))
				return nil
			}
			if err != nil {
				return err
			}
			if err := enc.Encode(ev); err != nil {
				return nil
			}
		}
	}
}
