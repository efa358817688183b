package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "node.profile")

	id, err := LoadOrCreate(profile, "alice")
	require.NoError(t, err)
	assert.Len(t, id.PublicID(), 64)

	info, err := os.Stat(profile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadOrCreate_ReloadsSameIdentity(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "node.profile")

	first, err := LoadOrCreate(profile, "bob")
	require.NoError(t, err)

	second, err := LoadOrCreate(profile, "bob")
	require.NoError(t, err)

	assert.Equal(t, first.PublicID(), second.PublicID())
	assert.Equal(t, first.EncryptionPublicKey().Bytes(), second.EncryptionPublicKey().Bytes())
}

func TestLoadOrCreate_RejectsPermissiveProfile(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "node.profile")

	_, err := LoadOrCreate(profile, "carol")
	require.NoError(t, err)

	require.NoError(t, os.Chmod(profile, 0644))

	_, err = LoadOrCreate(profile, "carol")
	assert.Error(t, err)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(filepath.Join(dir, "node.profile"), "dave")
	require.NoError(t, err)

	msg := []byte("hello mesh")
	sig := id.Sign(msg)

	assert.True(t, Verify(msg, sig, id.PublicID()))
	assert.False(t, Verify([]byte("tampered"), sig, id.PublicID()))
}

func TestVerify_NeverPanicsOnGarbage(t *testing.T) {
	assert.False(t, Verify([]byte("x"), []byte("y"), "not-hex"))
	assert.False(t, Verify([]byte("x"), []byte("y"), "deadbeef"))
}
