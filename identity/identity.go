// Package identity holds the long-term signing and encryption keypairs for
// a chat mesh node, and the on-disk profile they are persisted in.
//
// The signing keypair is Ed25519; its public half, rendered as lowercase
// hex, is the node's stable identifier for the life of the key file. A
// separate X25519 keypair is generated independently (not derived from the
// signing seed, see DESIGN.md) and used only for sealed-box key delivery.
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatmesh/node/internal/logger"
)

// profileVersion is the on-disk identity file format version.
const profileVersion = "1.0"

// Identity is a node's long-term cryptographic identity.
type Identity struct {
	Username string

	signingPub  ed25519.PublicKey
	signingPriv ed25519.PrivateKey

	encPub  *ecdh.PublicKey
	encPriv *ecdh.PrivateKey
}

// profileFile is the JSON shape persisted to disk (mode 0600).
type profileFile struct {
	Version          string `json:"version"`
	Username         string `json:"username"`
	SigningKeyHex    string `json:"signing_key_hex"`
	VerifyKeyHex     string `json:"verify_key_hex"`
	EncryptionKeyHex string `json:"encryption_key_hex"`
	EncryptionPubHex string `json:"encryption_pub_hex"`
}

// LoadOrCreate loads an existing identity from profilePath, or generates and
// persists a new one if the file does not exist. Any permissions problem or
// corrupt profile is a FatalStartup error: the caller should abort startup.
func LoadOrCreate(profilePath, username string) (*Identity, error) {
	if _, err := os.Stat(profilePath); err == nil {
		return load(profilePath)
	} else if !os.IsNotExist(err) {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "cannot stat profile", err)
	}
	return create(profilePath, username)
}

func load(profilePath string) (*Identity, error) {
	info, err := os.Stat(profilePath)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "cannot stat profile", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, logger.NewMeshError(logger.ErrFatalStartup,
			fmt.Sprintf("profile %s permits group/other access (mode %o)", profilePath, info.Mode().Perm()), nil)
	}

	raw, err := os.ReadFile(profilePath)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "cannot read profile", err)
	}

	var pf profileFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "corrupt profile: invalid JSON", err)
	}

	signingSeed, err := hex.DecodeString(pf.SigningKeyHex)
	if err != nil || len(signingSeed) != ed25519.SeedSize {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "corrupt profile: bad signing key", err)
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)

	encPrivBytes, err := hex.DecodeString(pf.EncryptionKeyHex)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "corrupt profile: bad encryption key", err)
	}
	encPriv, err := ecdh.X25519().NewPrivateKey(encPrivBytes)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "corrupt profile: invalid X25519 key", err)
	}

	id := &Identity{
		Username:    pf.Username,
		signingPub:  priv.Public().(ed25519.PublicKey),
		signingPriv: priv,
		encPub:      encPriv.PublicKey(),
		encPriv:     encPriv,
	}
	logger.Info("identity loaded", logger.String("profile", profilePath), logger.String("node_id", id.PublicID()))
	return id, nil
}

func create(profilePath, username string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to generate signing key", err)
	}
	encPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to generate encryption key", err)
	}

	id := &Identity{
		Username:    username,
		signingPub:  pub,
		signingPriv: priv,
		encPub:      encPriv.PublicKey(),
		encPriv:     encPriv,
	}

	if err := id.persist(profilePath); err != nil {
		return nil, err
	}
	logger.Info("identity created", logger.String("profile", profilePath), logger.String("node_id", id.PublicID()))
	return id, nil
}

// persist writes the profile atomically: write to a temp file in the same
// directory, then rename over the destination, with owner-only permissions.
func (id *Identity) persist(profilePath string) error {
	pf := profileFile{
		Version:          profileVersion,
		Username:         id.Username,
		SigningKeyHex:    hex.EncodeToString(id.signingPriv.Seed()),
		VerifyKeyHex:     hex.EncodeToString(id.signingPub),
		EncryptionKeyHex: hex.EncodeToString(id.encPriv.Bytes()),
		EncryptionPubHex: hex.EncodeToString(id.encPub.Bytes()),
	}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to marshal profile", err)
	}

	dir := filepath.Dir(profilePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to create profile directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.tmp")
	if err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to create temp profile", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to chmod temp profile", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to write temp profile", err)
	}
	if err := tmp.Close(); err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to close temp profile", err)
	}

	if err := os.Rename(tmpName, profilePath); err != nil {
		return logger.NewMeshError(logger.ErrFatalStartup, "failed to rename profile into place", err)
	}
	tmpName = ""
	return nil
}

// PublicID returns the node's stable identifier: lowercase hex of the
// Ed25519 public key, fixed at 64 characters.
func (id *Identity) PublicID() string {
	return hex.EncodeToString(id.signingPub)
}

// EncryptionPublicKey returns the node's X25519 public key, the key an
// inviter seals a channel key to (Node.Invite takes it as an argument).
// Discovery does not advertise it.
func (id *Identity) EncryptionPublicKey() *ecdh.PublicKey {
	return id.encPub
}

// EncryptionPrivateKey returns the node's X25519 private key, used to open
// sealed boxes addressed to this node.
func (id *Identity) EncryptionPrivateKey() *ecdh.PrivateKey {
	return id.encPriv
}

// Sign signs message with the node's Ed25519 signing key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.signingPriv, message)
}

// Verify checks a signature over message against a hex-encoded public key.
// It never panics or aborts the process; a malformed key or mismatched
// signature both simply return false.
func Verify(message, signature []byte, publicKeyHex string) bool {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, signature)
}
