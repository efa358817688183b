// Package zeroconf is the default discovery.Adapter, publishing and
// browsing for peers over mDNS via the zeroconf library.
package zeroconf

import (
	"context"
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/chatmesh/node/discovery"
	"github.com/chatmesh/node/internal/logger"
)

const (
	serviceType = "_chatmesh._tcp"
	domain      = "local."
)

// Adapter implements discovery.Adapter over mDNS.
//
// The browse callback fires on zeroconf's own goroutine. It never touches
// node state: it only sends an Event on the channel handed to Start, and
// a dedicated goroutine here owns the serviceName->nodeID index used to
// resolve departures. The index exists because a departing mDNS record
// carries only the service instance name, never the node ID that was in
// its TXT record — without it, removal would have to guess which peer
// left.
type Adapter struct {
	mu     sync.Mutex
	server *zeroconf.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an unstarted Adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Start(ctx context.Context, selfID string, port int, events chan<- discovery.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	instance := fmt.Sprintf("chatmesh-%s", shortID(selfID))
	txt := []string{"id=" + selfID, fmt.Sprintf("p=%d", port)}

	server, err := zeroconf.Register(instance, serviceType, domain, port, txt, nil)
	if err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "zeroconf register failed", err)
	}
	a.server = server

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return logger.NewMeshError(logger.ErrFatalStartup, "zeroconf resolver init failed", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go a.drain(entries, selfID, events)

	if err := resolver.Browse(browseCtx, serviceType, domain, entries); err != nil {
		cancel()
		server.Shutdown()
		return logger.NewMeshError(logger.ErrFatalStartup, "zeroconf browse failed", err)
	}

	return nil
}

// drain owns the serviceName->nodeID index and is the only goroutine
// allowed to post Events; it runs until entries is closed (browseCtx
// cancellation drains and closes it via the resolver).
func (a *Adapter) drain(entries <-chan *zeroconf.ServiceEntry, selfID string, events chan<- discovery.Event) {
	defer close(a.done)

	serviceNameToID := make(map[string]string)

	for entry := range entries {
		if entry.TTL == 0 {
			// mDNS goodbye record: this is a departure. Resolve by the
			// service instance name, not by guessing any currently
			// known peer.
			if id, ok := serviceNameToID[entry.Instance]; ok {
				delete(serviceNameToID, entry.Instance)
				events <- discovery.Event{NodeID: id, Down: true}
			}
			continue
		}

		nodeID, addr := parseEntry(entry)
		if nodeID == "" || nodeID == selfID {
			continue
		}

		serviceNameToID[entry.Instance] = nodeID
		events <- discovery.Event{NodeID: nodeID, Addr: addr}
	}
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if a.server != nil {
		a.server.Shutdown()
	}
	if a.done != nil {
		<-a.done
	}
	return nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (nodeID, addr string) {
	var port string
	for _, kv := range entry.Text {
		key, val, ok := splitTXT(kv)
		if !ok {
			continue
		}
		switch key {
		case "id":
			nodeID = val
		case "p":
			port = val
		}
	}
	if nodeID == "" {
		return "", ""
	}

	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" || port == "" {
		return nodeID, ""
	}
	return nodeID, fmt.Sprintf("%s:%s", host, port)
}

func splitTXT(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func shortID(nodeID string) string {
	if len(nodeID) <= 8 {
		return nodeID
	}
	return nodeID[:8]
}

var _ discovery.Adapter = (*Adapter)(nil)
