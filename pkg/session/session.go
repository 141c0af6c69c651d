// Package session implements the per-connection state machine: mutual TLS
// handshake, peer fingerprinting, and the request/response loop that
// dispatches to the Upload, Download, and List handlers.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/entropycollective/vaultd/pkg/auth"
	"github.com/entropycollective/vaultd/pkg/common/logging"
	"github.com/entropycollective/vaultd/pkg/metadata"
	"github.com/entropycollective/vaultd/pkg/protocol"
	"github.com/entropycollective/vaultd/pkg/vaultcrypto"
)

// State is one point in the per-connection state machine.
type State int

const (
	Handshaking State = iota
	Authenticated
	AwaitingRequest
	ServingUpload
	ServingDownload
	ServingList
	Closed
)

// BlobStore is the subset of pkg/blobstore.Store a Session needs. Declared
// as an interface so tests can substitute an in-memory fake instead of a
// real directory.
type BlobStore interface {
	Write(name string, ciphertext []byte) error
	Read(name string) ([]byte, error)
	Exists(name string) bool
	Delete(name string) error
}

// MetadataStore is the subset of pkg/metadata.Store a Session needs.
type MetadataStore interface {
	Upsert(ctx context.Context, obj *metadata.FileObject) error
	GetByName(ctx context.Context, name string) (*metadata.FileObject, error)
	List(ctx context.Context) ([]*metadata.FileObject, error)
	AppendAudit(ctx context.Context, name, typeOfChanges, status string) error
}

// CatalogIndex is the subset of pkg/catalog.Index a Session needs: indexing
// every upload for the admin surface's out-of-band search. It is optional:
// a nil CatalogIndex in Deps disables indexing without affecting Upload,
// Download, or List.
type CatalogIndex interface {
	Upsert(obj *metadata.FileObject) error
}

// Deps are the process-wide collaborators a Session borrows immutably (the
// AEAD key) or via a concurrency-safe handle (storage, metadata, logger).
type Deps struct {
	AEADKey  []byte
	Blobs    BlobStore
	Metadata MetadataStore
	Catalog  CatalogIndex
	Logger   *logging.Logger
}

// Session runs one mutually-authenticated connection's state machine: it
// owns no locks across I/O and writes at most one ResponseHeader per
// RequestHeader (two for Upload: readiness, then final status).
type Session struct {
	conn  *tls.Conn
	deps  Deps
	state State
	fp    string
	log   *logging.Logger
}

// New wraps an already-accepted TLS connection. Run performs the handshake.
func New(conn *tls.Conn, deps Deps) *Session {
	return &Session{conn: conn, deps: deps, state: Handshaking, log: deps.Logger.WithComponent("session")}
}

// Run drives the session to completion: handshake, then a request/response
// loop until the peer closes the connection or a transport failure occurs.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	if !s.handshake(ctx) {
		return
	}

	s.state = AwaitingRequest
	for {
		if s.state == Closed {
			return
		}
		if err := s.serveOneRequest(ctx); err != nil {
			s.log.Debug("session closed", map[string]interface{}{"owner_fp": s.fp, "reason": err.Error()})
			s.state = Closed
			return
		}
	}
}

func (s *Session) handshake(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = s.conn.SetDeadline(deadline)
	}
	if err := s.conn.HandshakeContext(ctx); err != nil {
		s.log.Warn("tls handshake failed", map[string]interface{}{"error": err.Error()})
		s.state = Closed
		return false
	}

	peerCerts := s.conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		s.log.Warn("no peer certificate presented")
		s.state = Closed
		return false
	}

	s.fp = auth.Fingerprint(peerCerts[0])
	s.state = Authenticated
	s.log.Debug("session authenticated", map[string]interface{}{"owner_fp": s.fp})
	return true
}

// serveOneRequest reads one RequestHeader and dispatches it. A transport
// failure (short read, closed connection) is returned to the caller, which
// closes the session without a further response.
func (s *Session) serveOneRequest(ctx context.Context) error {
	req, err := protocol.RecvRequest(s.conn)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("peer closed connection")
		}
		return fmt.Errorf("read request: %w", err)
	}

	switch req.Command {
	case protocol.Upload:
		s.state = ServingUpload
		err = s.handleUpload(ctx, req)
	case protocol.Download:
		s.state = ServingDownload
		err = s.handleDownload(ctx, req)
	case protocol.List:
		s.state = ServingList
		err = s.handleList(ctx, req)
	default:
		err = protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusFailure})
	}
	if err != nil {
		return err
	}

	s.state = AwaitingRequest
	return nil
}

func (s *Session) handleUpload(ctx context.Context, req *protocol.RequestHeader) error {
	if err := auth.ValidateFilename(req.Filename); err != nil {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusPermissionDenied})
	}
	if err := auth.ValidateRecipient(req.Recipient); err != nil {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusPermissionDenied})
	}
	if req.Filesize < 0 {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusPermissionDenied})
	}

	if err := protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusSuccess}); err != nil {
		return err
	}

	plaintext, err := protocol.RecvExact(s.conn, int(req.Filesize))
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}

	computed := vaultcrypto.Hash(plaintext)
	if !vaultcrypto.HashEqual(computed, req.FileHash) {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusIntegrityError})
	}

	nonce, err := vaultcrypto.NewNonce()
	if err != nil {
		s.log.Error("nonce generation failed", map[string]interface{}{"error": err.Error()})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	ciphertext, tag, err := vaultcrypto.Seal(s.deps.AEADKey, nonce, plaintext)
	if err != nil {
		s.log.Error("seal failed", map[string]interface{}{"error": err.Error()})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	if err := s.deps.Blobs.Write(req.Filename, ciphertext); err != nil {
		s.log.Error("blob write failed", map[string]interface{}{"error": err.Error()})
		_ = s.deps.Blobs.Delete(req.Filename)
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	obj := &metadata.FileObject{
		ID:                   req.Filename,
		Filename:             req.Filename,
		Extension:            filepath.Ext(req.Filename),
		Size:                 int64(len(plaintext)),
		Nonce:                nonce[:],
		Tag:                  tag[:],
		Encrypted:            true,
		OwnerFingerprint:     s.fp,
		RecipientFingerprint: req.Recipient,
		// The wire protocol has no client-settable public flag; every
		// upload is owner-private unless a recipient is given. Visibility
		// is promoted to public only out-of-band (not specified here).
		Public:     false,
		UploadedAt: time.Now().UnixMilli(),
	}
	if err := s.deps.Metadata.Upsert(ctx, obj); err != nil {
		s.log.Error("metadata upsert failed", map[string]interface{}{"error": err.Error()})
		_ = s.deps.Blobs.Delete(req.Filename)
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	if err := s.deps.Metadata.AppendAudit(ctx, req.Filename, metadata.ChangeUpload, metadata.StatusSuccess); err != nil {
		s.log.Warn("audit append failed", map[string]interface{}{"error": err.Error()})
	}

	if s.deps.Catalog != nil {
		if err := s.deps.Catalog.Upsert(obj); err != nil {
			s.log.Warn("catalog index failed", map[string]interface{}{"error": err.Error()})
		}
	}

	return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusSuccess})
}

func (s *Session) handleDownload(ctx context.Context, req *protocol.RequestHeader) error {
	if err := auth.ValidateFilename(req.Filename); err != nil {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusPermissionDenied})
	}

	obj, err := s.deps.Metadata.GetByName(ctx, req.Filename)
	if err != nil {
		if err == metadata.ErrNotFound {
			return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusFileNotFound})
		}
		s.log.Error("metadata lookup failed", map[string]interface{}{"error": err.Error()})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	if !auth.CanDownload(s.fp, obj.Public, obj.OwnerFingerprint, obj.RecipientFingerprint) {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusPermissionDenied})
	}

	if !s.deps.Blobs.Exists(req.Filename) {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusFileNotFound})
	}
	if req.Offset < 0 || req.Offset > obj.Size {
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusInvalidOffset})
	}

	ciphertext, err := s.deps.Blobs.Read(req.Filename)
	if err != nil {
		s.log.Error("blob read failed", map[string]interface{}{"error": err.Error()})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	var nonce [vaultcrypto.NonceSize]byte
	copy(nonce[:], obj.Nonce)
	var tag [vaultcrypto.TagSize]byte
	copy(tag[:], obj.Tag)

	plaintext, err := vaultcrypto.Open(s.deps.AEADKey, nonce, ciphertext, tag)
	if err != nil {
		s.log.Error("aead open failed", map[string]interface{}{"owner_fp": obj.OwnerFingerprint})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	// The response always reports the full plaintext size; only the body
	// is truncated to the requested offset, per spec's wire convention.
	if err := protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusSuccess, Filesize: int64(len(plaintext))}); err != nil {
		return err
	}
	if err := protocol.SendExact(s.conn, plaintext[req.Offset:]); err != nil {
		return err
	}

	if err := s.deps.Metadata.AppendAudit(ctx, req.Filename, metadata.ChangeDownload, metadata.StatusSuccess); err != nil {
		s.log.Warn("audit append failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// handleList takes no inputs beyond the command itself; it returns every
// record the caller is authorized to see, full stop. Operational, query-
// refined search lives entirely outside the wire protocol, on the admin
// surface's /catalog/search route.
func (s *Session) handleList(ctx context.Context, _ *protocol.RequestHeader) error {
	objs, err := s.deps.Metadata.List(ctx)
	if err != nil {
		s.log.Error("metadata list failed", map[string]interface{}{"error": err.Error()})
		return protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusError})
	}

	var entries []string
	for _, obj := range objs {
		if !auth.CanList(s.fp, obj.Public, obj.OwnerFingerprint, obj.RecipientFingerprint) {
			continue
		}
		entries = append(entries, catalogEntry(obj))
	}

	catalog := "[" + strings.Join(entries, ",") + "]"
	catalogBytes := []byte(catalog)

	if err := protocol.SendResponse(s.conn, &protocol.ResponseHeader{Status: protocol.StatusSuccess, Filesize: int64(len(catalogBytes))}); err != nil {
		return err
	}
	return protocol.SendExact(s.conn, catalogBytes)
}

func catalogEntry(obj *metadata.FileObject) string {
	return fmt.Sprintf(
		`{"name":%q,"size":%d,"public":%t,"owner_fp":%q,"uploaded_at":%d}`,
		obj.Filename, obj.Size, obj.Public, obj.OwnerFingerprint, obj.UploadedAt,
	)
}

// Fingerprint returns the authenticated peer's fingerprint, empty before
// handshake completes.
func (s *Session) Fingerprint() string {
	return s.fp
}

// State returns the session's current state machine position.
func (s *Session) State() State {
	return s.state
}

