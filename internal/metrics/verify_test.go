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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	if LinksDialed == nil {
		t.Error("LinksDialed metric is nil")
	}
	if LinksAccepted == nil {
		t.Error("LinksAccepted metric is nil")
	}
	if LinkStateTransitions == nil {
		t.Error("LinkStateTransitions metric is nil")
	}
	if LinkStateTransitions == nil {
		t.Error("LinkStateTransitions metric is nil")
	}

	if EnvelopesHandled == nil {
		t.Error("EnvelopesHandled metric is nil")
	}
	if EnvelopesDropped == nil {
		t.Error("EnvelopesDropped metric is nil")
	}
	if EnvelopesBroadcast == nil {
		t.Error("EnvelopesBroadcast metric is nil")
	}

	if CryptoOperations == nil {
		t.Error("CryptoOperations metric is nil")
	}

	if MessagesPersisted == nil {
		t.Error("MessagesPersisted metric is nil")
	}
}

func TestMetricsIncrement(t *testing.T) {
	LinksDialed.WithLabelValues("success").Inc()
	LinksAccepted.Inc()
	LinkStateTransitions.WithLabelValues("up").Inc()
	LinksUp.Set(1)

	EnvelopesHandled.WithLabelValues("accepted").Inc()
	EnvelopesDropped.WithLabelValues("duplicate").Inc()
	EnvelopesBroadcast.WithLabelValues("chat_message").Inc()
	HandleDuration.Observe(0.001)

	CryptoOperations.WithLabelValues("encrypt", "chacha20poly1305").Inc()
	CryptoOperations.WithLabelValues("decrypt", "chacha20poly1305").Inc()

	MessagesPersisted.WithLabelValues("public", "inserted").Inc()
	StoreOperationDuration.WithLabelValues("put_message").Observe(0.0005)

	if count := testutil.CollectAndCount(LinksDialed); count == 0 {
		t.Error("LinksDialed has no metrics collected")
	}
	if count := testutil.CollectAndCount(EnvelopesHandled); count == 0 {
		t.Error("EnvelopesHandled has no metrics collected")
	}
	if count := testutil.CollectAndCount(CryptoOperations); count == 0 {
		t.Error("CryptoOperations has no metrics collected")
	}
	if count := testutil.CollectAndCount(MessagesPersisted); count == 0 {
		t.Error("MessagesPersisted has no metrics collected")
	}
}
