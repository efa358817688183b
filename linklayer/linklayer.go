// Package linklayer maintains one persistent duplex TCP link per peer:
// line-delimited JSON frames with a transport-only ACK/ERROR handshake,
// bounded per-peer send queues, and a Dialing/Up/Draining/Closed state
// machine per link.
package linklayer

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/internal/metrics"
)

// State is a link's position in its Dialing -> Up -> Draining -> Closed
// lifecycle.
type State int32

const (
	Dialing State = iota
	Up
	Draining
	Closed
)

const (
	dialTimeout     = 5 * time.Second
	frameReadIdle   = 30 * time.Second
	sendQueueDepth  = 256
	maxFrameBytes   = 64 * 1024
	ackToken        = "ACK\n"
	errToken        = "ERROR\n"
)

// Frame is a single JSON gossip envelope as it appears on the wire.
type Frame = json.RawMessage

// Link is one duplex connection to a peer.
type Link struct {
	nodeID string
	conn   net.Conn
	state  int32 // atomic State

	sendQueue chan Frame
	die       chan struct{}
	dieOnce   sync.Once
}

func (l *Link) State() State { return State(atomic.LoadInt32(&l.state)) }

func (l *Link) transition(from, to State) bool {
	ok := atomic.CompareAndSwapInt32(&l.state, int32(from), int32(to))
	if !ok {
		return false
	}
	metrics.LinkStateTransitions.WithLabelValues(stateLabel(to)).Inc()
	switch {
	case to == Up:
		metrics.LinksUp.Inc()
	case from == Up:
		metrics.LinksUp.Dec()
	}
	return true
}

func stateLabel(s State) string {
	switch s {
	case Dialing:
		return "dialing"
	case Up:
		return "up"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (l *Link) forceClose() {
	l.dieOnce.Do(func() {
		close(l.die)
		l.conn.Close()
	})
}

// LinkLayer owns the peer table and dispatches inbound frames to onFrame.
type LinkLayer struct {
	selfID  string
	onFrame func(nodeID string, frame Frame)
	log     logger.Logger

	mu    sync.Mutex
	peers map[string]*Link

	listener net.Listener
	port     int
}

// New constructs a LinkLayer. onFrame is invoked once per well-formed
// inbound frame, from the link's own read goroutine, so frames from
// different links reach onFrame concurrently. Callers must synchronize
// their own shared state (gossip.Engine locks its seen set and its
// subscription set; it does not serialize whole frames).
func New(selfID string, onFrame func(nodeID string, frame Frame)) *LinkLayer {
	return &LinkLayer{
		selfID:  selfID,
		onFrame: onFrame,
		log:     logger.NewDefaultLogger(),
		peers:   make(map[string]*Link),
	}
}

// Listen opens an ephemeral local TCP port and accepts inbound dials.
func (ll *LinkLayer) Listen(ctx context.Context) (port int, err error) {
	lst, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return 0, logger.NewMeshError(logger.ErrFatalStartup, "linklayer listen failed", err)
	}
	ll.listener = lst
	ll.port = lst.Addr().(*net.TCPAddr).Port

	go ll.acceptLoop(ctx)
	return ll.port, nil
}

func (ll *LinkLayer) acceptLoop(ctx context.Context) {
	for {
		conn, err := ll.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				ll.log.Warn("accept failed", logger.Error(err))
				return
			}
		}
		go ll.handleInbound(conn)
	}
}

// handleInbound services a connection accepted from a dialing peer. The
// peer identifies itself in its first frame's sender_id; until then the
// link is not in the peer table.
func (ll *LinkLayer) handleInbound(conn net.Conn) {
	link := &Link{conn: conn, sendQueue: make(chan Frame, sendQueueDepth), die: make(chan struct{})}
	link.transition(Dialing, Up)
	metrics.LinksAccepted.Inc()
	go ll.readLoop(link, true)
	go ll.writeLoop(link)
}

// Dial establishes an outbound link to nodeID at addr. Re-dialing a peer
// already Up is a no-op.
func (ll *LinkLayer) Dial(nodeID, addr string) error {
	ll.mu.Lock()
	if existing, ok := ll.peers[nodeID]; ok && existing.State() == Up {
		ll.mu.Unlock()
		return nil
	}
	ll.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		metrics.LinksDialed.WithLabelValues("failure").Inc()
		return logger.NewMeshError(logger.ErrTransientIO, "dial failed", err)
	}
	metrics.LinksDialed.WithLabelValues("success").Inc()

	link := &Link{nodeID: nodeID, conn: conn, sendQueue: make(chan Frame, sendQueueDepth), die: make(chan struct{})}
	link.transition(Dialing, Up)

	ll.mu.Lock()
	ll.peers[nodeID] = link
	ll.mu.Unlock()

	go ll.readLoop(link, false)
	go ll.writeLoop(link)
	return nil
}

func (ll *LinkLayer) readLoop(link *Link, inbound bool) {
	defer ll.closeLink(link)

	scanner := bufio.NewScanner(link.conn)
	scanner.Buffer(make([]byte, 4096), maxFrameBytes)

	for {
		select {
		case <-link.die:
			return
		default:
		}

		link.conn.SetReadDeadline(time.Now().Add(frameReadIdle))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if tok := string(line) + "\n"; tok == ackToken || tok == errToken {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			link.conn.Write([]byte(errToken))
			continue
		}
		link.conn.Write([]byte(ackToken))

		if inbound && link.nodeID == "" {
			link.nodeID = extractSenderID(frame)
			if link.nodeID != "" && link.nodeID != ll.selfID {
				ll.mu.Lock()
				ll.peers[link.nodeID] = link
				ll.mu.Unlock()
			}
		}
		if link.nodeID == "" || link.nodeID == ll.selfID {
			continue
		}

		ll.onFrame(link.nodeID, frame)
	}
}

func (ll *LinkLayer) writeLoop(link *Link) {
	for {
		select {
		case <-link.die:
			return
		case frame := <-link.sendQueue:
			line, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			line = append(line, '\n')
			if _, err := link.conn.Write(line); err != nil {
				ll.closeLink(link)
				return
			}
		}
	}
}

func (ll *LinkLayer) closeLink(link *Link) {
	st := link.State()
	if st == Up {
		link.transition(Up, Draining)
	}
	link.transition(Draining, Closed)
	link.forceClose()

	if link.nodeID != "" {
		ll.mu.Lock()
		if cur, ok := ll.peers[link.nodeID]; ok && cur == link {
			delete(ll.peers, link.nodeID)
		}
		ll.mu.Unlock()
	}
}

// Disconnect closes the link to nodeID, if one exists.
func (ll *LinkLayer) Disconnect(nodeID string) {
	ll.mu.Lock()
	link, ok := ll.peers[nodeID]
	ll.mu.Unlock()
	if !ok {
		return
	}
	ll.closeLink(link)
}

// Send enqueues frame for nodeID without blocking. Returns false if no Up
// link exists. A saturated queue drops its oldest frame to make room for
// this one; false is returned only if the queue is still full after that.
func (ll *LinkLayer) Send(nodeID string, frame Frame) bool {
	ll.mu.Lock()
	link, ok := ll.peers[nodeID]
	ll.mu.Unlock()
	if !ok || link.State() != Up {
		return false
	}
	return enqueue(link.sendQueue, frame)
}

// Broadcast enqueues frame to every currently Up peer and returns the
// count of peers it was handed to.
func (ll *LinkLayer) Broadcast(frame Frame) int {
	ll.mu.Lock()
	links := make([]*Link, 0, len(ll.peers))
	for _, l := range ll.peers {
		if l.State() == Up {
			links = append(links, l)
		}
	}
	ll.mu.Unlock()

	count := 0
	for _, l := range links {
		if enqueue(l.sendQueue, frame) {
			count++
		}
	}
	return count
}

func enqueue(q chan Frame, frame Frame) bool {
	select {
	case q <- frame:
		return true
	default:
		select {
		case <-q:
			metrics.SendQueueDrops.Inc()
		default:
		}
		select {
		case q <- frame:
			return true
		default:
			return false
		}
	}
}

// Listening reports whether the listener is open.
func (ll *LinkLayer) Listening() bool {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return ll.listener != nil
}

// Peers returns the node IDs of all currently Up links.
func (ll *LinkLayer) Peers() []string {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	out := make([]string, 0, len(ll.peers))
	for id, l := range ll.peers {
		if l.State() == Up {
			out = append(out, id)
		}
	}
	return out
}

// Close shuts down the listener and every link.
func (ll *LinkLayer) Close() error {
	if ll.listener != nil {
		ll.listener.Close()
	}
	ll.mu.Lock()
	links := make([]*Link, 0, len(ll.peers))
	for _, l := range ll.peers {
		links = append(links, l)
	}
	ll.mu.Unlock()

	for _, l := range links {
		ll.closeLink(l)
	}
	return nil
}

func extractSenderID(frame Frame) string {
	var env struct {
		SenderID string `json:"sender_id"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return ""
	}
	return env.SenderID
}
