// Copyright (C) 2025 chatmesh-project
//
// This file is part of chatmesh-node.
//
// chatmesh-node is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// chatmesh-node is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with chatmesh-node. If not, see <https://www.gnu.org/licenses/>.

// Package wslink is an optional WebSocket transport for the same gossip
// frames linklayer.LinkLayer carries over raw TCP. It exists for
// browser-hosted UI shells that reach a node across a WAN hop, where a
// plain TCP dial is impractical; the primary mesh transport stays the
// TCP link layer, this is an additional adapter terminating at the same
// frame boundary.
package wslink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/linklayer"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendQueueLen = 64
)

// OnFrame is called with the remote node id and a decoded gossip frame
// for every message a connected client sends, matching the callback
// shape linklayer.New takes for its TCP links.
type OnFrame func(nodeID string, frame linklayer.Frame)

// Server accepts WebSocket connections from UI-shell clients and
// bridges gossip frames between them and the node's gossip engine.
type Server struct {
	selfID   string
	onFrame  OnFrame
	upgrader websocket.Upgrader
	log      logger.Logger

	mu    sync.RWMutex
	conns map[string]*clientConn
}

type clientConn struct {
	nodeID string
	ws     *websocket.Conn
	send   chan linklayer.Frame
	die    chan struct{}
	dieOne sync.Once
}

// NewServer creates a wslink server that reports frames to onFrame as
// they arrive, tagged with the node id each client announced.
func NewServer(selfID string, onFrame OnFrame) *Server {
	return &Server{
		selfID:  selfID,
		onFrame: onFrame,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log:   logger.GetDefaultLogger(),
		conns: make(map[string]*clientConn),
	}
}

// Handler upgrades incoming requests to WebSocket connections. Callers
// identify themselves with a "node_id" query parameter; a request
// without one is rejected before the upgrade.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.URL.Query().Get("node_id")
		if nodeID == "" {
			http.Error(w, "node_id query parameter is required", http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}

		cc := &clientConn{
			nodeID: nodeID,
			ws:     conn,
			send:   make(chan linklayer.Frame, sendQueueLen),
			die:    make(chan struct{}),
		}
		s.addConn(cc)

		go s.writeLoop(cc)
		s.readLoop(cc)
	})
}

func (s *Server) addConn(cc *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.conns[cc.nodeID]; ok {
		old.close()
	}
	s.conns[cc.nodeID] = cc
}

func (s *Server) removeConn(cc *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[cc.nodeID] == cc {
		delete(s.conns, cc.nodeID)
	}
}

func (s *Server) readLoop(cc *clientConn) {
	defer func() {
		s.removeConn(cc)
		cc.close()
	}()

	for {
		if err := cc.ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		_, data, err := cc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("wslink read error", logger.String("node_id", cc.nodeID), logger.Error(err))
			}
			return
		}
		if !json.Valid(data) {
			continue
		}
		s.onFrame(cc.nodeID, linklayer.Frame(data))
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.die:
			return
		case frame, ok := <-cc.send:
			if !ok {
				return
			}
			if err := cc.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := cc.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func (cc *clientConn) close() {
	cc.dieOne.Do(func() {
		close(cc.die)
		_ = cc.ws.Close()
	})
}

// Send delivers a frame to one connected client, reporting whether it
// was queued. A full send queue drops this new frame rather than
// blocking; unlike linklayer.LinkLayer, queued frames are kept.
func (s *Server) Send(nodeID string, frame linklayer.Frame) bool {
	s.mu.RLock()
	cc, ok := s.conns[nodeID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case cc.send <- frame:
		return true
	default:
		return false
	}
}

// Broadcast delivers a frame to every connected client and returns how
// many received it.
func (s *Server) Broadcast(frame linklayer.Frame) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sent := 0
	for _, cc := range s.conns {
		select {
		case cc.send <- frame:
			sent++
		default:
		}
	}
	return sent
}

// Peers lists the node ids of currently connected clients.
func (s *Server) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

// Close terminates every currently connected client. It does not stop
// Handler from accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cc := range s.conns {
		cc.close()
		delete(s.conns, id)
	}
	return nil
}
