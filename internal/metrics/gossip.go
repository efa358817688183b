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
	// EnvelopesHandled tracks the outcome of the gossip handle pipeline
	EnvelopesHandled = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "envelopes_handled_total",
			Help:      "Total number of gossip envelopes handled, by disposition",
		},
		[]string{"disposition"}, // accepted, forwarded, dropped
	)

	// EnvelopesDropped tracks the reason an envelope was dropped
	EnvelopesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "envelopes_dropped_total",
			Help:      "Total number of gossip envelopes dropped, by reason",
		},
		[]string{"reason"}, // bad_encoding, bad_signature, not_subscribed, duplicate, unknown_type
	)

	// SeenSetSize tracks the current size of the bounded dedup set
	SeenSetSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "seen_set_size",
			Help:      "Current number of message IDs held in the dedup set",
		},
	)

	// EnvelopesBroadcast tracks self-originated broadcasts
	EnvelopesBroadcast = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "envelopes_broadcast_total",
			Help:      "Total number of envelopes broadcast by this node",
		},
		[]string{"type"}, // chat_message, INVITE
	)

	// HandleDuration tracks time spent in the handle pipeline
	HandleDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "handle_duration_seconds",
			Help:      "Duration of the gossip handle pipeline in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
	)

	// EnvelopeSize tracks wire-frame sizes
	EnvelopeSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "envelope_size_bytes",
			Help:      "Size of gossip envelope frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)
