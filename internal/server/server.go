// Package server exposes a running presentation over HTTP: a websocket
// stream of bus events, Prometheus metrics, and a small control API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/classroom"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/presenter"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	requestTimeout = 5 * time.Second
)

// Presentation is what the control API drives.
type Presentation interface {
	Play() error
	Pause() error
	Seek(t float64) error
	GoTo(slide int) error
	State(ctx context.Context) (presenter.State, error)
}

// Classroom reports the scene side of the presentation.
type Classroom interface {
	Status(ctx context.Context) (classroom.Status, error)
}

// Snapshot is the body of GET /api/state and the first stream message.
type Snapshot struct {
	Presentation presenter.State  `json:"presentation"`
	Classroom    *classroom.Status `json:"classroom,omitempty"`
}

type Server struct {
	addr     string
	pres     Presentation
	room     Classroom
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*client]struct{}
	unsubscribe func()
	srv         *http.Server
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// New wires the server to b; every event published there is streamed to
// connected clients. room may be nil.
func New(addr string, pres Presentation, room Classroom, b *bus.EventBus, log zerolog.Logger) *Server {
	s := &Server{
		addr: addr,
		pres: pres,
		room: room,
		log:  logging.Component(log, "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	if b != nil {
		s.unsubscribe = b.SubscribeAll(s.broadcast)
	}
	return s
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/play", s.control(func(*http.Request) error { return s.pres.Play() }))
	mux.HandleFunc("POST /api/pause", s.control(func(*http.Request) error { return s.pres.Pause() }))
	mux.HandleFunc("POST /api/seek", s.control(func(r *http.Request) error {
		t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
		if err != nil || t < 0 {
			return badRequest{fmt.Errorf("t must be a non-negative number of seconds")}
		}
		return s.pres.Seek(t)
	}))
	mux.HandleFunc("POST /api/slide", s.control(func(r *http.Request) error {
		i, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil || i < 0 {
			return badRequest{fmt.Errorf("index must be a non-negative integer")}
		}
		return s.pres.GoTo(i)
	}))
	return mux
}

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	s.Close()
	return s.srv.Shutdown(shutdownCtx)
}

// Close drops every stream client and stops listening to the bus.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

func (s *Server) snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	st, err := s.pres.State(ctx)
	if err != nil {
		return snap, err
	}
	snap.Presentation = st
	if s.room != nil {
		status, err := s.room.Status(ctx)
		if err != nil {
			return snap, err
		}
		snap.Classroom = &status
	}
	return snap, nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	snap, err := s.snapshot(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("state snapshot failed")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type badRequest struct{ error }

func (s *Server) control(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r); err != nil {
			var bad badRequest
			if errors.As(err, &bad) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.log.Debug().Str("path", r.URL.Path).Str("query", r.URL.RawQuery).Msg("control request")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
