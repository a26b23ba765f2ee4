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

// Package hub implements the controller: state aggregation over the
// registry, translation of client commands into ordered broadcasts with
// barrier waits, and expiry-driven garbage collection.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
)

// BroadcastID addresses every connected client.
const BroadcastID = 0

const defaultPollInterval = 1000 * time.Millisecond

// Session is the write side of one connected client. Implementations must
// be safe for concurrent Send calls.
type Session interface {
	Send(payload []byte) error
}

// Config parameterizes the controller hub.
type Config struct {
	Separator string
	TopPrefix string
	// DB is the registry database number, used to derive the keyspace
	// expiry notification channel.
	DB           int
	PollInterval time.Duration

	PreRun   string
	PostRun  string
	PreStop  string
	PostStop string
}

// Hub is the process-wide controller object. All client writes go through
// Send; connId 0 broadcasts.
type Hub struct {
	client *redis.Client
	keys   *keyspace.Keys
	log    logger.Logger
	cfg    Config

	mu       sync.Mutex
	sessions map[uint64]Session
	nextID   uint64

	prevMu    sync.Mutex
	prevTable SummaryTable

	handlers map[string]func(ctx context.Context, connID uint64, req *models.ClientRequest)
}

// New builds a hub over an established registry client.
func New(client *redis.Client, cfg Config, log logger.Logger) *Hub {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	h := &Hub{
		client:   client,
		keys:     keyspace.New(cfg.Separator, cfg.TopPrefix),
		log:      log.WithComponent("hub"),
		cfg:      cfg,
		sessions: make(map[uint64]Session),
		nextID:   1,
	}

	h.handlers = map[string]func(ctx context.Context, connID uint64, req *models.ClientRequest){
		models.ClientCommandGet:     h.redisGet,
		models.ClientCommandSet:     h.redisSet,
		models.ClientCommandIncr:    h.redisIncr,
		models.ClientCommandPublish: h.redisPublish,
	}

	return h
}

// AddSession registers a connected client and returns its connId.
func (h *Hub) AddSession(s Session) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.sessions[id] = s

	h.log.Info().Uint64("connid", id).Int("sessions", len(h.sessions)).Msg("Client connected")

	return id
}

// RemoveSession drops a client.
func (h *Hub) RemoveSession(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, id)

	h.log.Info().Uint64("connid", id).Int("sessions", len(h.sessions)).Msg("Client disconnected")
}

// Send delivers a payload to one client, or to all when connID is the
// broadcast id. Failed sessions are logged, not removed; the read side
// owns the session lifecycle.
func (h *Hub) Send(connID uint64, payload []byte) {
	h.mu.Lock()

	targets := make(map[uint64]Session, 1)

	if connID == BroadcastID {
		for id, s := range h.sessions {
			targets[id] = s
		}
	} else if s, ok := h.sessions[connID]; ok {
		targets[connID] = s
	}

	h.mu.Unlock()

	for id, s := range targets {
		if err := s.Send(payload); err != nil {
			h.log.Warn().Err(err).Uint64("connid", id).Msg("Client write failed")
		}
	}
}

func (h *Hub) sendMessage(connID uint64, msgType, value string) {
	payload, _ := json.Marshal(models.ServerMessage{Type: msgType, Value: value})
	h.Send(connID, payload)
}

// HandleMessage processes one inbound client message. Bad input is
// dropped after an error log; no reply goes to an unidentified sender.
func (h *Hub) HandleMessage(ctx context.Context, connID uint64, raw []byte) {
	var req models.ClientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.log.Error().Err(err).Uint64("connid", connID).Msg("Malformed client message")
		return
	}

	if req.Command == "" {
		h.log.Error().Uint64("connid", connID).Msg("Client message without command")
		return
	}

	handler, ok := h.handlers[req.Command]
	if !ok {
		h.log.Error().Str("command", req.Command).Uint64("connid", connID).Msg("Unknown client command")
		return
	}

	handler(ctx, connID, &req)
}
