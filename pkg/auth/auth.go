// Package auth derives peer identity from X.509 certificates and enforces
// the filename and authorization rules every session handler applies
// before touching storage.
package auth

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeFilename indicates a filename failed sanitization and must be
// rejected with permission-denied before any file or metadata access.
var ErrUnsafeFilename = fmt.Errorf("unsafe filename")

// ErrInvalidRecipient indicates a recipient field was present but not a
// well-formed fingerprint.
var ErrInvalidRecipient = fmt.Errorf("invalid recipient fingerprint")

var hexFingerprint = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Fingerprint computes the peer identity token: the SHA-256 of the
// certificate's DER encoding, formatted as 64 lowercase hex characters.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// ValidateFilename reports whether name is safe to use as a storage key: it
// must be non-empty, under 256 bytes, and contain neither "/" nor "..".
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeFilename)
	}
	if len(name) >= 256 {
		return fmt.Errorf("%w: length %d >= 256", ErrUnsafeFilename, len(name))
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: contains '/'", ErrUnsafeFilename)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: contains '..'", ErrUnsafeFilename)
	}
	return nil
}

// ValidateRecipient reports whether recipient is acceptable on an upload
// request. An empty recipient is always valid (owner-private or public,
// decided elsewhere); a non-empty one must be a 64-character lowercase hex
// fingerprint.
func ValidateRecipient(recipient string) error {
	if recipient == "" {
		return nil
	}
	if !hexFingerprint.MatchString(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return nil
}

// IsFingerprint reports whether s has the shape of a peer fingerprint.
func IsFingerprint(s string) bool {
	return hexFingerprint.MatchString(s)
}

// CanDownload implements spec's download authorization: permitted iff the
// record is public, or the caller is the owner, or the caller is the
// designated recipient.
func CanDownload(callerFP string, public bool, ownerFP, recipientFP string) bool {
	if public {
		return true
	}
	if callerFP == ownerFP {
		return true
	}
	if recipientFP != "" && callerFP == recipientFP {
		return true
	}
	return false
}

// CanList reports whether a catalog entry is visible to callerFP: the
// record is public, or the caller is its owner, or its recipient. The List
// handler applies this per-record filter before emitting the catalog.
func CanList(callerFP string, public bool, ownerFP, recipientFP string) bool {
	return CanDownload(callerFP, public, ownerFP, recipientFP)
}
