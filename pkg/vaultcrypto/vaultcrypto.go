// Package vaultcrypto binds the two cryptographic primitives the protocol
// needs to concrete algorithms: BLAKE3-256 for content-integrity hashing,
// and ChaCha20-Poly1305 for authenticated encryption at rest.
//
// Neither primitive is used for peer authentication; that is the certificate
// fingerprint's job (pkg/auth). vaultcrypto only ever sees plaintext,
// ciphertext, and key material already resolved by the caller.
package vaultcrypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"
)

const (
	// KeySize is the AEAD key length in bytes.
	KeySize = chacha20poly1305.KeySize // 32
	// NonceSize is the AEAD nonce length in bytes.
	NonceSize = chacha20poly1305.NonceSize // 12
	// TagSize is the AEAD authentication tag length in bytes.
	TagSize = 16
	// HashSize is the content-integrity digest length in bytes.
	HashSize = 32
)

// Hash computes the 32-byte content-integrity digest of data. This is never
// used for authentication; peer identity comes solely from the certificate
// fingerprint.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// HashEqual compares a computed digest against a client-supplied one in
// constant time, so a mismatch can't be distinguished by timing from any
// other rejection path.
func HashEqual(a, b [HashSize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NewNonce draws a fresh, uniformly random 12-byte nonce from a
// cryptographic RNG, as required on every upload.
func NewNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext under key and nonce, returning ciphertext (same
// length as plaintext) and a detached 16-byte authentication tag.
func Seal(key []byte, nonce [NonceSize]byte, plaintext []byte) (ciphertext []byte, tag [TagSize]byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, tag, fmt.Errorf("init aead: %w", err)
	}

	sealed := aead.Seal(nil, nonce[:], plaintext, nil)
	ciphertext = sealed[:len(sealed)-TagSize]
	copy(tag[:], sealed[len(sealed)-TagSize:])
	return ciphertext, tag, nil
}

// Open decrypts ciphertext under key, nonce, and the detached tag,
// verifying authenticity before returning any bytes. A failed open returns
// no partial plaintext.
func Open(key []byte, nonce [NonceSize]byte, ciphertext []byte, tag [TagSize]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)

	plaintext, err := aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("aead open: authentication failed")
	}
	return plaintext, nil
}
