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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/node/store"
)

// fakeStore implements store.Store with a configurable Stats error, enough
// to exercise CheckStore without a real backend.
type fakeStore struct {
	statsErr error
}

func (f *fakeStore) PutChannel(ctx context.Context, ch store.Channel) error { return nil }
func (f *fakeStore) PutMember(ctx context.Context, m store.Member) error   { return nil }
func (f *fakeStore) PutMessage(ctx context.Context, msg store.Message) (bool, error) {
	return true, nil
}
func (f *fakeStore) Channel(ctx context.Context, channelID string) (store.Channel, bool, error) {
	return store.Channel{}, false, nil
}
func (f *fakeStore) Members(ctx context.Context, channelID string) ([]store.Member, error) {
	return nil, nil
}
func (f *fakeStore) Recent(ctx context.Context, channelID string, n int) ([]store.Message, error) {
	return nil, nil
}
func (f *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	if f.statsErr != nil {
		return store.Stats{}, f.statsErr
	}
	return store.Stats{Channels: 1}, nil
}
func (f *fakeStore) Export(ctx context.Context, channelID string) (store.ExportSet, error) {
	return store.ExportSet{}, nil
}
func (f *fakeStore) Import(ctx context.Context, set store.ExportSet) error { return nil }
func (f *fakeStore) Close() error                                         { return nil }

func TestCheckStore_Healthy(t *testing.T) {
	result := CheckStore(context.Background(), &fakeStore{}, "sqlite")
	assert.Equal(t, StatusHealthy, result.Status)
	assert.True(t, result.Connected)
	assert.Equal(t, "sqlite", result.Driver)
}

func TestCheckStore_Unreachable(t *testing.T) {
	result := CheckStore(context.Background(), &fakeStore{statsErr: errors.New("disk full")}, "sqlite")
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.False(t, result.Connected)
	assert.Contains(t, result.Error, "disk full")
}

func TestCheckStore_NotConfigured(t *testing.T) {
	result := CheckStore(context.Background(), nil, "sqlite")
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "not configured")
}

func TestCheckLink(t *testing.T) {
	result := CheckLink(true, 4001, 3)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.True(t, result.Listening)
	assert.Equal(t, 3, result.PeerCount)

	result = CheckLink(false, 0, 0)
	assert.Equal(t, StatusUnhealthy, result.Status)
}

func TestCheckSystem(t *testing.T) {
	result := CheckSystem()
	require.NotNil(t, result)
	assert.NotEqual(t, Status(""), result.Status)
}

func TestCheckerCheckAll(t *testing.T) {
	checker := NewChecker(&fakeStore{}, "sqlite", nil, "")
	status := checker.CheckAll()

	assert.Equal(t, StatusHealthy, status.Status)
	require.NotNil(t, status.StoreStatus)
	assert.True(t, status.StoreStatus.Connected)
	assert.Nil(t, status.LinkStatus)
}

func TestCheckerCheckAll_StoreDown(t *testing.T) {
	checker := NewChecker(&fakeStore{statsErr: errors.New("conn refused")}, "postgres", nil, "")
	status := checker.CheckAll()

	assert.NotEqual(t, StatusHealthy, status.Status)
	assert.NotEmpty(t, status.Errors)
}

func TestCheckerDetailed(t *testing.T) {
	checker := NewChecker(&fakeStore{}, "sqlite", nil, "")
	results := checker.Detailed(context.Background())

	require.Contains(t, results, "store")
	assert.Equal(t, StatusHealthy, results["store"].Status)
	assert.NotContains(t, results, "identity")
}

func TestCheckerDetailed_Identity(t *testing.T) {
	dir := t.TempDir()
	profilePath := dir + "/profile.json"
	require.NoError(t, os.WriteFile(profilePath, []byte("{}"), 0o600))

	checker := NewChecker(&fakeStore{}, "sqlite", nil, profilePath)
	results := checker.Detailed(context.Background())

	require.Contains(t, results, "identity")
	assert.Equal(t, StatusHealthy, results["identity"].Status)
}

func TestCheckerDetailed_IdentityMissing(t *testing.T) {
	checker := NewChecker(&fakeStore{}, "sqlite", nil, "/nonexistent/profile.json")
	results := checker.Detailed(context.Background())

	require.Contains(t, results, "identity")
	assert.Equal(t, StatusUnhealthy, results["identity"].Status)
}
