/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the browser control surface: static assets from the
// doc root and the websocket endpoint wired into the controller hub.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/nestdaq/pkg/hub"
	"github.com/carverauto/nestdaq/pkg/logger"
)

const (
	readLimit        = 1 << 20
	shutdownTimeout  = 5 * time.Second
	writeWaitTimeout = 10 * time.Second
)

// Config parameterizes the HTTP server.
type Config struct {
	// HTTPURI is the listen endpoint, e.g. "http://0.0.0.0:8080".
	HTTPURI string
	DocRoot string
}

// Server owns the HTTP listener and upgrades websocket sessions into the
// hub.
type Server struct {
	cfg Config
	hub *hub.Hub
	log logger.Logger

	upgrader websocket.Upgrader
}

// NewServer wires an HTTP server to the hub.
func NewServer(h *hub.Hub, cfg Config, log logger.Logger) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		log: log.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface sits on a trusted experiment network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ListenAddr extracts host:port from the configured URI.
func (s *Server) ListenAddr() (string, error) {
	u, err := url.Parse(s.cfg.HTTPURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse http uri %q: %w", s.cfg.HTTPURI, err)
	}

	if u.Host == "" {
		return "", fmt.Errorf("http uri %q has no host", s.cfg.HTTPURI)
	}

	return u.Host, nil
}

// Run serves until the context ends, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.ListenAddr()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.cfg.DocRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.DocRoot)))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", addr).Str("doc_root", s.cfg.DocRoot).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// session is one websocket client. Writes are serialized by the mutex so
// hub broadcasts and replies cannot interleave frames.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWaitTimeout)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWebSocket upgrades the connection, registers the session with the
// hub, and pumps inbound messages until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	sess := &session{conn: conn}
	connID := s.hub.AddSession(sess)

	defer func() {
		s.hub.RemoveSession(connID)
		conn.Close()
	}()

	conn.SetReadLimit(readLimit)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Uint64("connid", connID).Msg("WebSocket read failed")
			}

			return
		}

		s.hub.HandleMessage(r.Context(), connID, payload)
	}
}
