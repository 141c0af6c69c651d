// Package watcher runs a single dedicated goroutine observing the blob
// storage directory for out-of-band changes (a blob rewritten, moved, or
// removed by something other than the upload handler) and mirrors them into
// the metadata store's audit map. It mirrors the original daemon's inotify
// loop, swapping inotify for fsnotify's portable wrapper.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/entropycollective/vaultd/pkg/common/logging"
	"github.com/entropycollective/vaultd/pkg/metadata"
)

// AuditAppender is the subset of pkg/metadata.Store the watcher needs.
type AuditAppender interface {
	AppendAudit(ctx context.Context, name, typeOfChanges, status string) error
}

// Watcher observes one directory and appends audit events for changes to
// any non-".tmp" entry in it; the entry's type is not checked, so a
// subdirectory is audited like a file. It never reads file contents and never deletes metadata records;
// a "deleted" audit event records that the blob is gone, it does not flip
// any Deleted flag on the metadata record itself (that stays the metadata
// store's decision, made elsewhere, per spec's separation of blob lifecycle
// from record lifecycle).
type Watcher struct {
	dir      string
	metadata AuditAppender
	log      *logging.Logger
}

// New creates a Watcher bound to dir.
func New(dir string, store AuditAppender, log *logging.Logger) *Watcher {
	return &Watcher{dir: dir, metadata: store, log: log.WithComponent("watcher")}
}

// Run adds the watch and processes events until ctx is canceled. It is
// meant to be the whole body of the single dedicated watcher goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watch: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.log.Info("watching storage directory", map[string]interface{}{"dir": w.dir})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// handle classifies one fsnotify event and appends the corresponding audit
// entry. Temp files written by blobstore's write-then-rename (the ".tmp"
// suffix) are ignored; only the final, visible name is audited.
func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) == ".tmp" {
		return
	}

	var changeType, status string
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		changeType, status = metadata.ChangeModified, metadata.StatusSuccess
	case event.Has(fsnotify.Rename):
		changeType, status = metadata.ChangeMovedTo, metadata.StatusNA
	case event.Has(fsnotify.Remove):
		changeType, status = metadata.ChangeDeleted, metadata.StatusNA
	default:
		return
	}

	if err := w.metadata.AppendAudit(ctx, name, changeType, status); err != nil {
		w.log.Warn("audit append failed", map[string]interface{}{"name": name, "error": err.Error()})
	}
}
