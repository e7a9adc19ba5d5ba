package export

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// ObjectOpener opens a Cloud Storage object for reading.
type ObjectOpener interface {
	OpenObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// StorageOpener adapts a storage client to ObjectOpener.
type StorageOpener struct {
	Client *storage.Client
}

// OpenObject opens the object with a plain (non-ranged) reader.
func (o StorageOpener) OpenObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return o.Client.Bucket(bucket).Object(object).NewReader(ctx)
}

// BucketSource reads the exports the admin tool publishes to a bucket.
type BucketSource struct {
	opener        ObjectOpener
	bucket        string
	catalogObject string
	rulesObject   string
}

var (
	_ repositories.CatalogSource = (*BucketSource)(nil)
	_ repositories.RuleSource    = (*BucketSource)(nil)
)

// NewBucketSource constructs the source.
func NewBucketSource(opener ObjectOpener, bucket, catalogObject, rulesObject string) (*BucketSource, error) {
	if opener == nil {
		return nil, errors.New("export: object opener is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("export: bucket is required")
	}
	return &BucketSource{
		opener:        opener,
		bucket:        bucket,
		catalogObject: strings.TrimSpace(catalogObject),
		rulesObject:   strings.TrimSpace(rulesObject),
	}, nil
}

// FetchCatalog downloads and decodes the catalog object.
func (s *BucketSource) FetchCatalog(ctx context.Context) (repositories.CatalogRecords, error) {
	reader, err := s.open(ctx, "export.catalog", s.catalogObject)
	if err != nil {
		return repositories.CatalogRecords{}, err
	}
	defer reader.Close()
	return DecodeCatalog(reader)
}

// FetchRules downloads and decodes the rules object.
func (s *BucketSource) FetchRules(ctx context.Context) ([]repositories.RuleRecord, error) {
	reader, err := s.open(ctx, "export.rules", s.rulesObject)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return DecodeRules(reader)
}

func (s *BucketSource) open(ctx context.Context, op, object string) (io.ReadCloser, error) {
	if object == "" {
		return nil, &Error{op: op, err: errors.New("object not configured"), notFound: true}
	}
	reader, err := s.opener.OpenObject(ctx, s.bucket, object)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{op: op, err: err, notFound: errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist)}
	}
	return reader, nil
}
