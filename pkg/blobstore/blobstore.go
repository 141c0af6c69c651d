// Package blobstore manages the flat directory of ciphertext blob files
// keyed by sanitized filename. It holds no knowledge of nonces, tags, or
// ownership; the metadata store (pkg/metadata) is the single source of
// truth for those, and blobstore only ever sees bytes and names.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Store manages ciphertext blobs under a single flat root directory.
type Store struct {
	root string

	mu     sync.Mutex
	absent *bloom.BloomFilter
}

// New creates a Store rooted at dir, creating the directory if necessary.
// absentCapacity sizes the negative-existence filter that lets Exists skip
// a stat syscall for names that were never written.
func New(dir string, absentCapacity uint) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if absentCapacity == 0 {
		absentCapacity = 100_000
	}
	s := &Store{
		root:   dir,
		absent: bloom.NewWithEstimates(absentCapacity, 0.01),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan storage directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			s.markPresent(e.Name())
		}
	}

	return s, nil
}

// path resolves name to its blob path. Callers MUST validate name with
// auth.ValidateFilename before calling any Store method; Store itself does
// not re-sanitize, matching spec's "the sanitizer is the single gatekeeper."
func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

// Write persists ciphertext under name with create-or-replace semantics.
func (s *Store) Write(name string, ciphertext []byte) error {
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o640); err != nil {
		return fmt.Errorf("write blob %q: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize blob %q: %w", name, err)
	}
	s.markPresent(name)
	return nil
}

// Read returns the full ciphertext for name.
func (s *Store) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	return data, nil
}

// Stat returns the on-disk ciphertext length for name.
func (s *Store) Stat(name string) (int64, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		return 0, fmt.Errorf("stat blob %q: %w", name, err)
	}
	return info.Size(), nil
}

// Exists reports whether a blob named name is present. It consults the
// negative-existence filter first: a "definitely absent" verdict skips the
// syscall entirely; any other verdict falls through to a real stat.
func (s *Store) Exists(name string) bool {
	if s.definitelyAbsent(name) {
		return false
	}
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Delete best-effort removes name's blob, ignoring a not-exist error. Used
// to clean up a partial write after a later failure in the upload pipeline.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %q: %w", name, err)
	}
	return nil
}

func (s *Store) markPresent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absent.TestAndAdd([]byte(name))
}

func (s *Store) definitelyAbsent(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.absent.Test([]byte(name))
}
