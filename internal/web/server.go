// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves live fixes over WebSocket plus a small HTTP API.
package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gps_tracker/internal/broadcast"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

// readLimit caps inbound frames; clients are not expected to send anything.
const readLimit = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the HTTP routes to the tracker's shared state.
type Server struct {
	broadcaster  *broadcast.Broadcaster
	store        *gps.Store
	metrics      *metrics.Metrics
	log          *logger.Logger
	writeTimeout time.Duration
	staticDir    string
}

// NewServer returns a Server. An empty staticDir disables the file server.
func NewServer(b *broadcast.Broadcaster, store *gps.Store, m *metrics.Metrics, log *logger.Logger,
	writeTimeout time.Duration, staticDir string,
) *Server {
	return &Server{
		broadcaster:  b,
		store:        store,
		metrics:      m,
		log:          log,
		writeTimeout: writeTimeout,
		staticDir:    staticDir,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/location", s.handleLocation)
	mux.Handle("/metrics", s.metrics)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

type locationResponse struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Updated   time.Time `json:"updated"`
}

func (s *Server) handleLocation(w http.ResponseWriter, _ *http.Request) {
	fix, ok := s.store.Get()
	if !ok {
		http.Error(w, "no fix yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := locationResponse{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Updated:   s.store.Updated().UTC(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("web: json encode error", logger.Err(err))
	}
}

// handleWS upgrades the connection and registers it with the
// broadcaster. It blocks until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("web: websocket upgrade error", logger.Err(err))
		return
	}

	sub := &wsSubscriber{conn: conn, writeTimeout: s.writeTimeout}
	id, err := s.broadcaster.Join(r.RemoteAddr, sub)
	if err != nil {
		return
	}
	defer s.broadcaster.Leave(id)

	conn.SetReadLimit(readLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("web: websocket read error", "remote", r.RemoteAddr, logger.Err(err))
			}
			return
		}
	}
}

// wsSubscriber writes fixes as JSON text frames.
type wsSubscriber struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (c *wsSubscriber) Send(fix gps.Fix) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(fix)
}

func (c *wsSubscriber) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		err = c.conn.Close()
	})
	return err
}
