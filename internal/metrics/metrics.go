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

// Package metrics exposes the node's Prometheus metrics: its own
// registry (kept separate from the default global one so tests can
// spin up independent nodes without collector collisions) and the
// namespace every metric in this package is registered under.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "chatmesh"

// Registry is the registry every metric in this package registers
// against. A dedicated registry, rather than prometheus.DefaultRegisterer,
// lets more than one node run in the same test process.
var Registry = prometheus.NewRegistry()
