package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/MosquitoCurtains/new-sub007/internal/platform/firestore"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

const (
	catalogMetaCollection  = "catalogMeta"
	catalogMetaDocument    = "current"
	catalogEntryCollection = "catalogEntries"
)

type catalogMetaDocumentData struct {
	Version   string    `firestore:"version"`
	Currency  string    `firestore:"currency"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CatalogRepository reads the published catalog: a header document holding version and currency,
// plus one document per product/option pricing record.
type CatalogRepository struct {
	meta    *pfirestore.Collection[catalogMetaDocumentData]
	entries *pfirestore.Collection[repositories.CatalogEntryRecord]
}

var _ repositories.CatalogSource = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog source.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	meta, err := pfirestore.NewCollection[catalogMetaDocumentData](provider, catalogMetaCollection, nil)
	if err != nil {
		return nil, err
	}
	entries, err := pfirestore.NewCollection[repositories.CatalogEntryRecord](provider, catalogEntryCollection, decodeCatalogEntry)
	if err != nil {
		return nil, err
	}
	return &CatalogRepository{meta: meta, entries: entries}, nil
}

// FetchCatalog loads the header and every entry ordered by product then option key. A missing header
// is reported as not found.
func (r *CatalogRepository) FetchCatalog(ctx context.Context) (repositories.CatalogRecords, error) {
	header, err := r.meta.Get(ctx, catalogMetaDocument)
	if err != nil {
		return repositories.CatalogRecords{}, err
	}

	docs, err := r.entries.List(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return repositories.CatalogRecords{}, err
	}

	records := repositories.CatalogRecords{
		Version:   header.Data.Version,
		Currency:  header.Data.Currency,
		UpdatedAt: header.Data.UpdatedAt,
		Entries:   make([]repositories.CatalogEntryRecord, 0, len(docs)),
	}
	if records.UpdatedAt.IsZero() {
		records.UpdatedAt = header.UpdateTime
	}
	for _, doc := range docs {
		records.Entries = append(records.Entries, doc.Data)
	}
	sort.SliceStable(records.Entries, func(i, j int) bool {
		a, b := records.Entries[i], records.Entries[j]
		if a.ProductKey != b.ProductKey {
			return a.ProductKey < b.ProductKey
		}
		return a.OptionKey < b.OptionKey
	})
	return records, nil
}

func decodeCatalogEntry(snap *firestore.DocumentSnapshot) (repositories.CatalogEntryRecord, error) {
	return catalogEntryFromData(snap.Data()), nil
}
