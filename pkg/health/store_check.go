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

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/chatmesh/node/store"
)

// CheckStore pings the store with a lightweight Stats call and reports its
// latency. Used as the node's primary readiness signal: a node cannot serve
// channels, memberships, or messages without a reachable store.
func CheckStore(ctx context.Context, st store.Store, driver string) *StoreHealth {
	health := &StoreHealth{
		Driver:    driver,
		Connected: false,
		Status:    StatusUnhealthy,
	}

	if st == nil {
		health.Error = "store not configured"
		return health
	}

	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := st.Stats(checkCtx); err != nil {
		health.Error = fmt.Sprintf("stats query failed: %v", err)
		return health
	}

	latency := time.Since(start)
	health.Latency = latency.String()
	health.Connected = true

	if latency < 100*time.Millisecond {
		health.Status = StatusHealthy
	} else if latency < 1*time.Second {
		health.Status = StatusDegraded
	} else {
		health.Status = StatusUnhealthy
		health.Error = fmt.Sprintf("high latency: %v", latency)
	}

	return health
}

// CheckLink reports the link layer's listener and peer status. A node with
// no Up peers is not unhealthy by itself, only informational: it may simply
// be alone on the network.
func CheckLink(listening bool, port, peerCount int) *LinkHealth {
	status := StatusHealthy
	if !listening {
		status = StatusUnhealthy
	}
	return &LinkHealth{
		Status:    status,
		Listening: listening,
		Port:      port,
		PeerCount: peerCount,
	}
}
