// Package stream implements the pricefeed.Source against Polymarket's
// market websocket channel.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/pricefeed"
)

const (
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
	tickBuffer       = 256
)

// subscribeMessage is the market-channel subscription request.
type subscribeMessage struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// wsEvent is the common envelope of every market-channel event.
type wsEvent struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Price     string         `json:"price"`
	Bids      []wsLevelEntry `json:"bids"`
	Asks      []wsLevelEntry `json:"asks"`
}

type wsLevelEntry struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSSource is a reconnectable websocket price source. The Feed owns the
// reconnect policy; this type only dials, subscribes and decodes. Tick and
// error channels survive reconnects so the Feed never re-wires itself.
type WSSource struct {
	url string

	ticks  chan pricefeed.Tick
	errors chan error

	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{} // per-connection, closed on Close
	tokens []string
}

// NewWSSource creates a source for the given websocket URL ("" = production).
func NewWSSource(url string) *WSSource {
	if url == "" {
		url = defaultWSURL
	}
	return &WSSource{
		url:    url,
		ticks:  make(chan pricefeed.Tick, tickBuffer),
		errors: make(chan error, 1),
	}
}

// Connect dials the websocket and starts the read loop. Safe to call again
// after Close — reconnecting replaces the previous connection.
func (s *WSSource) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("stream.Connect: dial %s: %w", s.url, err)
	}

	done := make(chan struct{})
	conn.SetPongHandler(func(string) error { return nil })

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	go s.readLoop(conn, done)
	go s.pingLoop(conn, done)
	slog.Debug("stream: connected", "url", s.url)
	return nil
}

// Subscribe replaces the tracked asset set on the live connection.
func (s *WSSource) Subscribe(tokenIDs []string) error {
	s.mu.Lock()
	conn := s.conn
	s.tokens = append([]string(nil), tokenIDs...)
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("stream.Subscribe: not connected")
	}

	msg, err := json.Marshal(subscribeMessage{AssetIDs: tokenIDs, Type: "market"})
	if err != nil {
		return fmt.Errorf("stream.Subscribe: marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("stream.Subscribe: write: %w", err)
	}
	return nil
}

// Ticks returns the decoded price event channel.
func (s *WSSource) Ticks() <-chan pricefeed.Tick {
	return s.ticks
}

// Errors returns the connection error channel.
func (s *WSSource) Errors() <-chan error {
	return s.errors
}

// Close tears down the current connection. The source can be reconnected.
func (s *WSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	if s.conn == nil {
		return nil
	}
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := s.conn.Close()
	s.conn = nil
	return err
}

// readLoop decodes market events until the connection dies or Close is
// called. A read error on a live connection is surfaced once; the Feed
// decides whether to reconnect.
func (s *WSSource) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return // deliberate Close, not an error
			default:
			}
			select {
			case s.errors <- err:
			default:
			}
			return
		}
		s.dispatch(data)
	}
}

// pingLoop keeps the connection alive; the server drops silent clients.
func (s *WSSource) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				slog.Debug("stream: ping failed", "err", err)
				return
			}
		}
	}
}

// dispatch decodes one websocket frame. The market channel batches events
// into arrays; single objects also appear.
func (s *WSSource) dispatch(data []byte) {
	var events []wsEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(data, &single); err != nil {
			slog.Debug("stream: undecodable frame", "err", err)
			return
		}
		events = []wsEvent{single}
	}
	for _, ev := range events {
		s.emit(ev)
	}
}

// emit converts one event into a tick, dollars → cents.
func (s *WSSource) emit(ev wsEvent) {
	if ev.AssetID == "" {
		return
	}

	var tick pricefeed.Tick
	switch ev.EventType {
	case "book":
		// Snapshot: best levels are enough, the tracker wants a midpoint.
		bid, ask := bestLevels(ev)
		if bid <= 0 || ask <= 0 {
			return
		}
		tick = pricefeed.Tick{
			TokenID:  ev.AssetID,
			BidCents: bid,
			AskCents: ask,
			HasBook:  true,
		}
	case "last_trade_price":
		price := domain.ParsePrice(ev.Price) * 100
		if price <= 0 {
			return
		}
		tick = pricefeed.Tick{TokenID: ev.AssetID, PriceCents: price}
	default:
		return // price_change and tick_size_change carry no usable mark
	}

	select {
	case s.ticks <- tick:
	default:
		slog.Warn("stream: tick buffer full, dropping", "token", ev.AssetID)
	}
}

// bestLevels extracts best bid/ask in cents from a book snapshot. The feed
// sends bids ascending and asks descending, so scan for the extremes rather
// than trusting order.
func bestLevels(ev wsEvent) (bidCents, askCents float64) {
	for _, lvl := range ev.Bids {
		if p := domain.ParsePrice(lvl.Price) * 100; p > bidCents {
			bidCents = p
		}
	}
	for _, lvl := range ev.Asks {
		p := domain.ParsePrice(lvl.Price) * 100
		if p > 0 && (askCents == 0 || p < askCents) {
			askCents = p
		}
	}
	return bidCents, askCents
}
