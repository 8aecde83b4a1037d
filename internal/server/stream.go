package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/metrics"
)

// streamHello is the type of the first message on a new stream.
const streamHello = "hello"

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	snap, err := s.snapshot(ctx)
	cancel()
	if err == nil {
		if data, err := json.Marshal(map[string]any{"type": streamHello, "time": time.Now(), "data": snap}); err == nil {
			c.send <- data
		}
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	metrics.StreamClients.Inc()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("stream client connected")

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client messages and notices disconnects.
func (s *Server) readPump(c *client) {
	defer func() {
		s.drop(c)
		c.conn.Close()
		metrics.StreamClients.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("stream client read error")
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// broadcast fans ev out to every client. A client whose buffer is full is
// too slow to follow the lecture and is dropped.
func (s *Server) broadcast(ev bus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(ev.Type)).Msg("event not encodable")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			delete(s.clients, c)
			c.close()
			s.log.Warn().Msg("stream client too slow, dropped")
		}
	}
}
