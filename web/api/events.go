package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narvanalabs/build-feed/internal/models"
)

// ErrSocketClosed is returned when writing to a closed event socket.
var ErrSocketClosed = errors.New("event socket closed")

const socketWriteWait = 10 * time.Second

// Sink receives every event frame read from the socket.
type Sink interface {
	Deliver(env models.Envelope) error
}

// EventSocket is a client connection to the API event hub. It does not
// reconnect: once the connection drops, Done is closed and the socket is dead.
type EventSocket struct {
	conn   *websocket.Conn
	sink   Sink
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// DialEvents connects to the event hub of the client's API and starts
// delivering frames into sink.
func DialEvents(ctx context.Context, c *Client, sink Sink, logger *slog.Logger) (*EventSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := c.EventsURL()
	if err != nil {
		return nil, err
	}

	// The connection is closed if ctx ends during the handshake, so a
	// cancelled dial returns at once.
	var stop func() bool
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(dctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			nc, err := d.DialContext(dctx, network, addr)
			if err != nil {
				return nil, err
			}
			stop = context.AfterFunc(ctx, func() { nc.Close() })
			return nc, nil
		},
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if stop != nil && !stop() && err == nil {
		conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dialing event socket: %w", ErrUnauthorized)
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("dialing event socket: %w", cerr)
		}
		return nil, fmt.Errorf("dialing event socket: %w", err)
	}

	s := &EventSocket{
		conn:   conn,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (s *EventSocket) read() {
	defer close(s.done)
	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.writeMu.Lock()
			closed := s.closed
			s.writeMu.Unlock()
			if !closed {
				s.logger.Warn("event socket lost", "error", err)
			}
			return
		}
		if err := s.sink.Deliver(env); err != nil {
			s.logger.Debug("dropping event frame", "type", env.Type, "error", err)
		}
	}
}

// Subscribe asks the hub to start delivering topic.
func (s *EventSocket) Subscribe(topic string) error {
	return s.send(models.KindSubscribe, topic)
}

// Unsubscribe asks the hub to stop delivering topic.
func (s *EventSocket) Unsubscribe(topic string) error {
	return s.send(models.KindUnsubscribe, topic)
}

func (s *EventSocket) send(kind, topic string) error {
	env, err := models.NewEnvelope(kind, models.TopicRequest{Topic: topic})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("sending %s %s: %w", kind, topic, err)
	}
	return nil
}

// Done is closed when the read loop exits.
func (s *EventSocket) Done() <-chan struct{} {
	return s.done
}

// Close sends a close frame and waits for the read loop to exit.
func (s *EventSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(socketWriteWait))
		err = s.conn.Close()
		s.writeMu.Unlock()
		<-s.done
	})
	return err
}
