// Package catalog maintains an optional full-text search index over stored
// filenames, queried only by the admin surface's /catalog/search route; the
// wire protocol's List handler never reads it. It is gated by
// Config.CatalogIndexEnabled.
package catalog

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/entropycollective/vaultd/pkg/metadata"
)

// entryDoc is the document shape indexed for each stored name.
type entryDoc struct {
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	OwnerFP   string `json:"owner_fingerprint"`
	Public    bool   `json:"public"`
}

// Index wraps an in-memory Bleve index of stored filenames. It holds no
// authorization state; Search returns matching names with no per-caller
// filtering.
type Index struct {
	mu    sync.Mutex
	bleve bleve.Index
}

// New builds an empty, in-memory catalog index. Blobs and their metadata
// live in pkg/blobstore and pkg/metadata respectively; this index is a
// derived, rebuildable convenience structure, so it never persists to disk.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create catalog index: %w", err)
	}
	return &Index{bleve: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	doc := bleve.NewDocumentMapping()

	filenameField := bleve.NewTextFieldMapping()
	filenameField.Store = true
	filenameField.Index = true
	filenameField.Analyzer = standard.Name
	doc.AddFieldMappingsAt("filename", filenameField)

	extField := bleve.NewTextFieldMapping()
	extField.Store = true
	extField.Index = true
	extField.Analyzer = "keyword"
	doc.AddFieldMappingsAt("extension", extField)

	ownerField := bleve.NewTextFieldMapping()
	ownerField.Store = true
	ownerField.Index = true
	ownerField.Analyzer = "keyword"
	doc.AddFieldMappingsAt("owner_fingerprint", ownerField)

	publicField := bleve.NewBooleanFieldMapping()
	publicField.Store = true
	publicField.Index = true
	doc.AddFieldMappingsAt("public", publicField)

	im.AddDocumentMapping("entry", doc)
	im.DefaultType = "entry"
	return im
}

// Upsert indexes or re-indexes one record, keyed by its name.
func (idx *Index) Upsert(obj *metadata.FileObject) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc := entryDoc{
		Filename:  obj.Filename,
		Extension: filepath.Ext(obj.Filename),
		OwnerFP:   obj.OwnerFingerprint,
		Public:    obj.Public,
	}
	if err := idx.bleve.Index(obj.ID, doc); err != nil {
		return fmt.Errorf("index catalog entry %q: %w", obj.ID, err)
	}
	return nil
}

// Delete removes name from the index.
func (idx *Index) Delete(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.bleve.Delete(name); err != nil {
		return fmt.Errorf("delete catalog entry %q: %w", name, err)
	}
	return nil
}

// Search returns the stored names matching a free-text query over filename
// and extension, most relevant first, capped at limit results.
func (idx *Index) Search(query string, limit int) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequest(q)
	if limit > 0 {
		req.Size = limit
	}
	result, err := idx.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}

	names := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		names = append(names, hit.ID)
	}
	return names, nil
}

// Close releases the underlying index resources.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.bleve.Close()
}
