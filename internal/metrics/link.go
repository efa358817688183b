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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksDialed tracks outbound dial attempts
	LinksDialed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "dials_total",
			Help:      "Total number of outbound link dial attempts",
		},
		[]string{"status"}, // success, failure
	)

	// LinksAccepted tracks inbound connections accepted
	LinksAccepted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "accepted_total",
			Help:      "Total number of inbound link connections accepted",
		},
	)

	// LinkStateTransitions tracks link state machine transitions
	LinkStateTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "state_transitions_total",
			Help:      "Total number of link state transitions",
		},
		[]string{"to"}, // dialing, up, draining, closed
	)

	// LinksUp tracks the current number of established peer links
	LinksUp = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "up",
			Help:      "Current number of peer links in the Up state",
		},
	)

	// SendQueueDrops tracks frames dropped from a full per-peer send queue
	SendQueueDrops = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "send_queue_drops_total",
			Help:      "Total number of frames dropped from a full send queue",
		},
	)
)
