// Package discovery defines the peer-discovery port used by Node to learn
// about other nodes on the local network, independent of the mechanism
// (mDNS, a static peer list, etc) an adapter uses to find them.
package discovery

import "context"

// Event reports a peer appearing (Down == false, Addr populated) or
// disappearing (Down == true) from the network.
type Event struct {
	NodeID string
	Addr   string
	Down   bool
}

// Adapter discovers peers and reports their arrival and departure on
// events. Start must not block past initial setup; discovery runs in the
// background until Stop is called. Implementations must never touch
// caller state directly from a foreign callback thread — only ever send
// on events, leaving the receiving goroutine to own the node state.
type Adapter interface {
	Start(ctx context.Context, selfID string, port int, events chan<- Event) error
	Stop() error
}
