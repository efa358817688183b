// Package cryptobox implements the mesh's symmetric and sealed-box
// cryptography: AEAD encrypt/decrypt of channel content, anonymous
// public-key sealing for invite key delivery, and password-based key
// derivation.
package cryptobox

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/hpke"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/internal/metrics"
)

// ChannelKeySize is the length in bytes of a private channel's symmetric key.
const ChannelKeySize = 32

var sealSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// ErrAuthFail is returned by Decrypt and Open on any AEAD/seal
// authentication failure. It never carries partial plaintext.
var ErrAuthFail = logger.NewMeshError(logger.ErrAuthFailure, "authentication failed", nil)

// NewChannelKey returns a fresh random 256-bit channel key.
func NewChannelKey() ([]byte, error) {
	key := make([]byte, ChannelKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to generate channel key", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext under key with ChaCha20-Poly1305, using a
// fresh random 96-bit nonce and no additional authenticated data. It
// returns the ciphertext (tag embedded) and the nonce, both hex-encoded.
func Encrypt(key, plaintext []byte) (ciphertextHex, nonceHex string, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("encrypt", "chacha20poly1305").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		} else {
			metrics.CryptoOperations.WithLabelValues("encrypt", "chacha20poly1305").Inc()
		}
	}()

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", "", logger.NewMeshError(logger.ErrInvalidEncoding, "invalid channel key", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", logger.NewMeshError(logger.ErrFatalStartup, "failed to generate nonce", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(ciphertext), hex.EncodeToString(nonce), nil
}

// Decrypt reverses Encrypt. Any authentication failure returns ErrAuthFail
// and no plaintext, never a partial result.
func Decrypt(key []byte, ciphertextHex, nonceHex string) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("decrypt", "chacha20poly1305").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		} else {
			metrics.CryptoOperations.WithLabelValues("decrypt", "chacha20poly1305").Inc()
		}
	}()

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrInvalidEncoding, "invalid channel key", err)
	}

	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrInvalidEncoding, "bad ciphertext hex", err)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		return nil, logger.NewMeshError(logger.ErrInvalidEncoding, "bad nonce hex", err)
	}

	plain, openErr := aead.Open(nil, nonce, ciphertext, nil)
	if openErr != nil {
		logger.Warn("aead open failed", logger.String("reason", "auth_fail"))
		err = ErrAuthFail
		return nil, err
	}
	return plain, nil
}

// Seal anonymously encrypts plaintext to recipientPub using HPKE base mode
// (X25519-HKDF-SHA256 / HKDF-SHA256 / ChaCha20-Poly1305). The sender's
// identity is not recoverable from the output; authenticity of the sealed
// blob is provided by the signed envelope that carries it, not by this
// layer. The wire form is enc (32 bytes) || hpke_ciphertext.
func Seal(recipientPub *ecdh.PublicKey, plaintext []byte) (sealed []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("seal", "x25519_hpke").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("seal").Inc()
		} else {
			metrics.CryptoOperations.WithLabelValues("seal", "x25519_hpke").Inc()
		}
	}()

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(recipientPub.Bytes())
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrInvalidEncoding, "invalid recipient key", err)
	}

	sender, err := sealSuite.NewSender(rp, nil)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to set up hpke sender", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "hpke setup failed", err)
	}
	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "hpke seal failed", err)
	}

	return append(append([]byte{}, enc...), ct...), nil
}

// Open reverses Seal using the recipient's X25519 private key. Any failure
// (malformed packet, wrong key, tampered ciphertext) returns ErrAuthFail.
func Open(ownPriv *ecdh.PrivateKey, sealed []byte) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("open", "x25519_hpke").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("open").Inc()
		} else {
			metrics.CryptoOperations.WithLabelValues("open", "x25519_hpke").Inc()
		}
	}()

	const encLen = 32 // X25519 KEM encapsulated-key length
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	if len(sealed) < encLen {
		err = ErrAuthFail
		return nil, err
	}
	enc, ct := sealed[:encLen], sealed[encLen:]

	skR, err := kem.UnmarshalBinaryPrivateKey(ownPriv.Bytes())
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrInvalidEncoding, "invalid local key", err)
	}

	receiver, err := sealSuite.NewReceiver(skR, nil)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to set up hpke receiver", err)
	}
	opener, openSetupErr := receiver.Setup(enc)
	if openSetupErr != nil {
		logger.Warn("sealed box open failed", logger.String("reason", "bad_enc"))
		err = ErrAuthFail
		return nil, err
	}
	plain, openErr := opener.Open(ct, nil)
	if openErr != nil {
		logger.Warn("sealed box open failed", logger.String("reason", "auth_fail"))
		err = ErrAuthFail
		return nil, err
	}
	return plain, nil
}

// scryptMinN is the smallest scrypt cost parameter this package will
// accept; scrypt requires N to be a power of two.
const scryptMinN = 1 << 14

// passwordKeyInfo binds the HKDF expansion below to this one purpose, so
// the scrypt master secret can't be replayed as key material for some
// other derivation context.
var passwordKeyInfo = []byte("chatmesh-password-channel-key")

// DeriveFromPassword derives a 256-bit key from password and salt. scrypt
// does the memory-hard work (iterations mapped onto scrypt's N cost
// parameter, rounded up to the next power of two, minimum 2^14); the
// scrypt output is then expanded through HKDF-SHA256 to bind the result
// to this derivation's purpose before it is used as a channel key. Not on
// the invite path; a utility for operators who want a password-gated
// profile or export file.
func DeriveFromPassword(password, salt []byte, iterations int) (key []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("derive_password", "scrypt_hkdf").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("derive_password").Inc()
		} else {
			metrics.CryptoOperations.WithLabelValues("derive_password", "scrypt_hkdf").Inc()
		}
	}()

	n := scryptMinN
	for n < iterations {
		n <<= 1
	}
	master, err := scrypt.Key(password, salt, n, 8, 1, ChannelKeySize)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, fmt.Sprintf("scrypt derivation failed (N=%d)", n), err)
	}

	key = make([]byte, ChannelKeySize)
	if _, rerr := io.ReadFull(hkdf.New(sha256.New, master, salt, passwordKeyInfo), key); rerr != nil {
		err = logger.NewMeshError(logger.ErrFatalStartup, "hkdf expansion failed", rerr)
		return nil, err
	}
	return key, nil
}
