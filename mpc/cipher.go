package mpc

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize        = curve25519.ScalarSize
	NonceSize      = 16
	CiphertextSize = 8 + chacha20poly1305.Overhead
)

var kdfInfo = []byte("darkpool/mpc/shared/v1")

var (
	ErrInvalidKey = errors.New("mpc: invalid key")
	ErrDecrypt    = errors.New("mpc: ciphertext authentication failed")
)

// PublicKey is an x25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is an x25519 scalar.
type PrivateKey [KeySize]byte

// KeyPair is an x25519 key pair held by an order owner or by the compute service.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair draws a new key pair from r (usually crypto/rand.Reader).
func GenerateKeyPair(r io.Reader) (KeyPair, error) {
	var priv PrivateKey
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("mpc: read key material: %w", err)
	}
	return NewKeyPair(priv)
}

// NewKeyPair completes a stored private key with its public key.
func NewKeyPair(priv PrivateKey) (KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Nonce is the 128-bit nonce a set of fields is sealed under.
type Nonce [NonceSize]byte

// NewNonce draws a random nonce from r.
func NewNonce(r io.Reader) (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Nonce{}, fmt.Errorf("mpc: read nonce: %w", err)
	}
	return n, nil
}

// Ciphertext is one sealed 64-bit field. There is deliberately no way to compute on it:
// it can only be produced and opened by a SharedCipher.
type Ciphertext [CiphertextSize]byte

// SharedCipher seals and opens fields between two x25519 parties.
// Both sides derive the same cipher: NewSharedCipher(a.Private, b.Public) and
// NewSharedCipher(b.Private, a.Public) are interchangeable.
type SharedCipher struct {
	aead cipher.AEAD
}

// NewSharedCipher derives the shared field cipher from an x25519 exchange.
func NewSharedCipher(priv PrivateKey, peer PublicKey) (*SharedCipher, error) {
	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, kdfInfo), key); err != nil {
		return nil, fmt.Errorf("mpc: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SharedCipher{aead: aead}, nil
}

// Encrypt seals v as field number field under nonce.
func (c *SharedCipher) Encrypt(nonce Nonce, field uint64, v uint64) Ciphertext {
	var pt [8]byte
	binary.LittleEndian.PutUint64(pt[:], v)

	fn := fieldNonce(nonce, field)

	var ct Ciphertext
	c.aead.Seal(ct[:0], fn[:], pt[:], nil)
	return ct
}

// Decrypt opens field number field sealed under nonce.
func (c *SharedCipher) Decrypt(nonce Nonce, field uint64, ct Ciphertext) (uint64, error) {
	fn := fieldNonce(nonce, field)

	pt, err := c.aead.Open(nil, fn[:], ct[:], nil)
	if err != nil {
		return 0, ErrDecrypt
	}
	return binary.LittleEndian.Uint64(pt), nil
}

// fieldNonce extends the 128-bit nonce with the field index to the 192-bit XChaCha20 nonce.
func fieldNonce(nonce Nonce, field uint64) [chacha20poly1305.NonceSizeX]byte {
	var out [chacha20poly1305.NonceSizeX]byte
	copy(out[:], nonce[:])
	binary.LittleEndian.PutUint64(out[NonceSize:], field)
	return out
}
