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
	"errors"
	"os"
	"time"

	"github.com/chatmesh/node/health"
	"github.com/chatmesh/node/linklayer"
	"github.com/chatmesh/node/store"
)

var errNotListening = errors.New("link layer is not listening")

// Checker performs the node's health checks
type Checker struct {
	store    store.Store
	storeDrv string
	link     *linklayer.LinkLayer

	registry *health.HealthChecker
}

// NewChecker creates a new health checker over a node's store and link
// layer. profilePath, if non-empty, registers an identity availability
// check against the node's on-disk profile/keypair file.
func NewChecker(st store.Store, storeDriver string, link *linklayer.LinkLayer, profilePath string) *Checker {
	c := &Checker{
		store:    st,
		storeDrv: storeDriver,
		link:     link,
		registry: health.NewHealthChecker(10 * time.Second),
	}

	c.registry.RegisterCheck("store", health.StoreHealthCheck(func(ctx context.Context) error {
		_, err := st.Stats(ctx)
		return err
	}))
	if link != nil {
		c.registry.RegisterCheck("link", health.ServiceHealthCheck("linklayer", func(context.Context, string) error {
			if !link.Listening() {
				return errNotListening
			}
			return nil
		}))
	}
	if profilePath != "" {
		c.registry.RegisterCheck("identity", health.IdentityHealthCheck(func() error {
			_, err := os.Stat(profilePath)
			return err
		}))
	}

	return c
}

// Detailed runs the cached, named-check registry (store, link, identity)
// and returns each result keyed by check name. Unlike CheckAll, results
// are cached for a short TTL so frequent polling doesn't hammer the store.
func (c *Checker) Detailed(ctx context.Context) map[string]*health.CheckResult {
	return c.registry.CheckAll(ctx)
}

// CheckAll performs all health checks
func (c *Checker) CheckAll() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	status.StoreStatus = CheckStore(context.Background(), c.store, c.storeDrv)
	if status.StoreStatus.Status != StatusHealthy {
		status.Status = status.StoreStatus.Status
		if status.StoreStatus.Error != "" {
			status.Errors = append(status.Errors, "store: "+status.StoreStatus.Error)
		}
	}

	if c.link != nil {
		status.LinkStatus = CheckLink(c.link.Listening(), 0, len(c.link.Peers()))
		if status.LinkStatus.Status != StatusHealthy {
			status.Status = StatusUnhealthy
			status.Errors = append(status.Errors, "link: listener not open")
		}
	}

	status.SystemStatus = CheckSystem()
	if status.SystemStatus.Status != StatusHealthy {
		if status.Status == StatusHealthy {
			status.Status = status.SystemStatus.Status
		} else if status.SystemStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
		if status.SystemStatus.Error != "" {
			status.Errors = append(status.Errors, "system: "+status.SystemStatus.Error)
		}
	}

	return status
}
