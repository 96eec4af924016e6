package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solwatch/tokenbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// streamCommand is the subscribe message sent to the price stream endpoint.
type streamCommand struct {
	Type   string   `json:"type"`
	Tokens []string `json:"tokens"`
}

// streamMessage is one price push from the stream.
type streamMessage struct {
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"ts"` // unix milliseconds
}

// Stream is a websocket client delivering real-time price pushes for a
// subscribed token set. It reconnects with exponential backoff and restores
// the subscription after a drop.
type Stream struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens []string
	closed bool

	updates chan domain.PriceUpdate
	done    chan struct{}
}

// NewStream creates a new price stream client for the given websocket URL,
// e.g. "wss://price.jup.ag/stream".
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:   wsURL,
		logger:  logger.With(slog.String("component", "jupiter_stream")),
		updates: make(chan domain.PriceUpdate, 256),
		done:    make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("jupiter/stream: %w", domain.ErrStreamClosed)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("jupiter/stream: connect: %w", err)
	}

	s.conn = conn

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	// Restore the subscription after a reconnect.
	if len(s.tokens) > 0 {
		if err := s.sendSubscribe(s.tokens); err != nil {
			return fmt.Errorf("jupiter/stream: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe replaces the current subscription set.
func (s *Stream) Subscribe(ctx context.Context, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("jupiter/stream: %w", domain.ErrStreamClosed)
	}
	if s.conn == nil {
		return fmt.Errorf("jupiter/stream: not connected")
	}

	if err := s.sendSubscribe(tokens); err != nil {
		return fmt.Errorf("jupiter/stream: subscribe: %w", err)
	}

	s.tokens = append([]string(nil), tokens...)
	return nil
}

// Updates returns the channel price pushes arrive on. The channel is closed
// when the stream is closed.
func (s *Stream) Updates() <-chan domain.PriceUpdate {
	return s.updates
}

// Close shuts down the connection and stops the loops.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// sendSubscribe sends the subscribe command. Caller must hold s.mu.
func (s *Stream) sendSubscribe(tokens []string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(streamCommand{Type: "subscribe", Tokens: tokens})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads pushes from the socket until the connection drops, then
// hands off to the reconnect loop.
func (s *Stream) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				close(s.updates)
				return
			default:
			}
			s.logger.Warn("stream read failed, reconnecting", slog.Any("error", err))
			s.reconnect()
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("stream message decode failed", slog.Any("error", err))
			continue
		}
		if msg.Token == "" || msg.Price <= 0 {
			continue
		}

		update := domain.PriceUpdate{
			Token:     msg.Token,
			Price:     msg.Price,
			Timestamp: time.UnixMilli(msg.Timestamp),
		}

		select {
		case s.updates <- update:
		default:
			// Drop the oldest push rather than block the read loop.
			select {
			case <-s.updates:
			default:
			}
			s.updates <- update
		}
	}
}

// pingLoop sends keep-alive pings until the stream is closed.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			if conn != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.mu.Unlock()
					return
				}
			}
			s.mu.Unlock()
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the stream
// is closed.
func (s *Stream) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			close(s.updates)
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("stream reconnected")
			return
		}

		s.logger.Warn("stream reconnect failed", slog.Any("error", err))
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

var _ domain.PriceStream = (*Stream)(nil)
