package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	apitypes "github.com/dualsense-tools/dsud/apitypes"
)

// EventStream is a long-lived connection delivering controller events as
// newline-delimited JSON.
type EventStream struct {
	conn   net.Conn
	dec    *json.Decoder
	Serial string
	closed bool

	readCancel context.CancelFunc
	readMu     sync.Mutex
}

// OpenEvents connects to a controller's event stream. The controller must be
// attached; the first event is always the current session state.
func (c *Client) OpenEvents(ctx context.Context, serial string) (*EventStream, error) {
	t := c.transport
	if t.mock != nil {
		return nil, fmt.Errorf("stream connections not supported with mock transport")
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	streamPath := fmt.Sprintf("controller/%s/events\x00", strings.ToLower(serial))
	if _, err := conn.Write([]byte(streamPath)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write stream path: %w", err)
	}

	return &EventStream{
		conn:   conn,
		dec:    json.NewDecoder(bufio.NewReader(conn)),
		Serial: serial,
	}, nil
}

// Next blocks for the next event on the stream. A problem+json line from the
// server (e.g. unknown controller) is returned as an *apitypes.ApiError.
func (s *EventStream) Next() (*apitypes.Event, error) {
	if s.closed {
		return nil, fmt.Errorf("stream closed")
	}
	return s.next()
}

func (s *EventStream) next() (*apitypes.Event, error) {
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, err
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal(raw, &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var ev apitypes.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// StartReading begins asynchronously decoding events in a background
// goroutine, delivering them on the returned channel until the stream ends
// or ctx is canceled. The error channel receives the terminating error.
func (s *EventStream) StartReading(ctx context.Context, chSize int) (<-chan apitypes.Event, <-chan error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.readCancel != nil {
		panic("StartReading called twice on the same stream")
	}

	evCh := make(chan apitypes.Event, chSize)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)
	s.readCancel = cancel

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer cancel()

		for {
			select {
			case <-readCtx.Done():
				errCh <- readCtx.Err()
				return
			default:
			}

			ev, err := s.next()
			if err != nil {
				errCh <- err
				return
			}

			select {
			case evCh <- *ev:
			case <-readCtx.Done():
				errCh <- readCtx.Err()
				return
			}
		}
	}()

	return evCh, errCh
}

// SetReadDeadline sets the read deadline for the underlying connection.
func (s *EventStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the stream connection and stops any background reading.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.readMu.Lock()
	if s.readCancel != nil {
		s.readCancel()
	}
	s.readMu.Unlock()

	return s.conn.Close()
}
