// Package metadata implements the document-oriented metadata record store:
// one FileObject per stored name, with a dense, decimal-keyed audit map
// appended to by both the serving path and the filesystem watcher.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound indicates no non-deleted record exists for the requested name.
var ErrNotFound = errors.New("metadata: record not found")

// maxAppendRetries bounds the optimistic retry loop in AppendAudit.
const maxAppendRetries = 8

// AuditInfo is the nested detail of one AuditEvent.
type AuditInfo struct {
	TypeOfChanges string `bson:"type_of_changes"`
	Status        string `bson:"status"`
}

// AuditEvent is one entry in a FileObject's audit map.
type AuditEvent struct {
	Date int64     `bson:"date"`
	Info AuditInfo `bson:"info"`
}

// Audit change types and statuses, per spec's AuditMap.
const (
	ChangeUpload   = "upload"
	ChangeDownload = "download"
	ChangeModified = "modified"
	ChangeMovedTo  = "moved_to"
	ChangeDeleted  = "deleted"

	StatusSuccess = "success"
	StatusNA      = "n/a"
	StatusError   = "error"
)

// FileObject is the metadata record for one stored name. Field names match
// the document layout's normative names exactly.
type FileObject struct {
	ID                   string                `bson:"_id"`
	Filename             string                `bson:"filename"`
	Extension            string                `bson:"extension"`
	Size                 int64                 `bson:"size"`
	Nonce                []byte                `bson:"nonce"`
	Tag                  []byte                `bson:"tag"`
	Encrypted            bool                  `bson:"encrypted"`
	Deleted              bool                  `bson:"deleted"`
	OwnerFingerprint     string                `bson:"owner_fingerprint"`
	RecipientFingerprint string                `bson:"recipient_fingerprint,omitempty"`
	Public               bool                  `bson:"public"`
	UploadedAt           int64                 `bson:"uploaded_at"`
	Proc                 map[string]AuditEvent `bson:"proc"`
}

// AuditListener receives every audit event as it is appended, for the admin
// surface's live /audit/stream tail. Registered once at startup; the zero
// value (nil) means nothing is listening.
type AuditListener func(name, typeOfChanges, status string, date int64)

// Store wraps the metadata collection with the operations the session
// handlers and watcher need. A Store is safe for concurrent use; the
// underlying mongo.Client pools connections internally.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection

	listenerMu sync.RWMutex
	listener   AuditListener
}

// Connect dials the configured metadata-store endpoint and returns a Store
// bound to database/collection. Fatal per spec's taxonomy: callers should
// exit non-zero if this fails at startup.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to metadata store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping metadata store: %w", err)
	}
	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SetAuditListener registers fn to be called with every audit event
// AppendAudit successfully appends, from both the serving path and the
// filesystem watcher. Passing nil disables notification.
func (s *Store) SetAuditListener(fn AuditListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = fn
}

// Upload open question: this implementation overwrites the blob and rotates
// the metadata record when Upload targets an existing non-deleted name
// (matching spec's "last writer wins for blob bytes" concurrency policy and
// recorded as the chosen resolution in DESIGN.md). The audit map is
// preserved across the rotation; only the static fields (size, nonce, tag,
// owner, recipient, public, uploaded_at) are replaced.
func (s *Store) Upsert(ctx context.Context, obj *FileObject) error {
	filter := bson.M{"_id": obj.ID}
	update := bson.M{
		"$set": bson.M{
			"filename":              obj.Filename,
			"extension":             obj.Extension,
			"size":                  obj.Size,
			"nonce":                 obj.Nonce,
			"tag":                   obj.Tag,
			"encrypted":             obj.Encrypted,
			"deleted":               false,
			"owner_fingerprint":     obj.OwnerFingerprint,
			"recipient_fingerprint": obj.RecipientFingerprint,
			"public":                obj.Public,
			"uploaded_at":           obj.UploadedAt,
		},
		"$setOnInsert": bson.M{"proc": bson.M{}},
	}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert metadata record %q: %w", obj.ID, err)
	}
	return nil
}

// GetByName returns the non-deleted record for name, or ErrNotFound.
func (s *Store) GetByName(ctx context.Context, name string) (*FileObject, error) {
	var obj FileObject
	filter := bson.M{"_id": name, "deleted": false}
	err := s.collection.FindOne(ctx, filter).Decode(&obj)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata record %q: %w", name, err)
	}
	return &obj, nil
}

// List returns every non-deleted record. It applies no authorization
// filter; that is the caller's responsibility.
func (s *Store) List(ctx context.Context) ([]*FileObject, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"deleted": false})
	if err != nil {
		return nil, fmt.Errorf("list metadata records: %w", err)
	}
	defer cursor.Close(ctx)

	var objs []*FileObject
	for cursor.Next(ctx) {
		var obj FileObject
		if err := cursor.Decode(&obj); err != nil {
			return nil, fmt.Errorf("decode metadata record: %w", err)
		}
		objs = append(objs, &obj)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list metadata records: %w", err)
	}
	return objs, nil
}

// ensureBase creates a minimal record for name if none exists, tolerating
// "already exists" as success. Used by AppendAudit so the watcher can append
// events for names it discovered without ever calling Upsert.
func (s *Store) ensureBase(ctx context.Context, name string) error {
	doc := bson.M{
		"_id":       name,
		"filename":  name,
		"extension": filepath.Ext(name),
		"deleted":   false,
		"encrypted": true,
		"proc":      bson.M{},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": name}, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ensure base record %q: %w", name, err)
	}
	return nil
}

// AppendAudit appends one audit event to name's proc map using optimistic
// retry: re-read the current keys, compute next_key = max+1, then attempt a
// conditional update that only succeeds if that key is still unoccupied.
// Bounded at maxAppendRetries attempts, matching spec's "~8 retries".
func (s *Store) AppendAudit(ctx context.Context, name, typeOfChanges, status string) error {
	if err := s.ensureBase(ctx, name); err != nil {
		return err
	}

	event := AuditEvent{
		Date: time.Now().UnixMilli(),
		Info: AuditInfo{TypeOfChanges: typeOfChanges, Status: status},
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		var current struct {
			Proc map[string]AuditEvent `bson:"proc"`
		}
		if err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&current); err != nil {
			return fmt.Errorf("read proc for %q: %w", name, err)
		}

		nextKey := nextAuditKey(current.Proc)
		fieldPath := "proc." + nextKey

		filter := bson.M{"_id": name, fieldPath: bson.M{"$exists": false}}
		update := bson.M{"$set": bson.M{fieldPath: event}}

		res, err := s.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("append audit event to %q: %w", name, err)
		}
		if res.MatchedCount == 1 {
			s.notifyListener(name, typeOfChanges, status, event.Date)
			return nil
		}
		// Someone else claimed nextKey first; recompute and retry.
	}
	return fmt.Errorf("append audit event to %q: exhausted %d retries", name, maxAppendRetries)
}

func (s *Store) notifyListener(name, typeOfChanges, status string, date int64) {
	s.listenerMu.RLock()
	fn := s.listener
	s.listenerMu.RUnlock()
	if fn != nil {
		fn(name, typeOfChanges, status, date)
	}
}

// nextAuditKey computes the next dense decimal key for proc, defaulting to
// "1" when proc is empty.
func nextAuditKey(proc map[string]AuditEvent) string {
	max := 0
	for k := range proc {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return strconv.Itoa(max + 1)
}
