package export

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// FileSource reads catalog and rule exports from local files. It is used for local development and
// by panelctl.
type FileSource struct {
	catalogPath string
	rulesPath   string
}

var (
	_ repositories.CatalogSource = (*FileSource)(nil)
	_ repositories.RuleSource    = (*FileSource)(nil)
)

// NewFileSource constructs the source. Either path may be empty when only one document is needed.
func NewFileSource(catalogPath, rulesPath string) *FileSource {
	return &FileSource{
		catalogPath: strings.TrimSpace(catalogPath),
		rulesPath:   strings.TrimSpace(rulesPath),
	}
}

// FetchCatalog reads and decodes the catalog file.
func (s *FileSource) FetchCatalog(ctx context.Context) (repositories.CatalogRecords, error) {
	file, err := s.open(ctx, "export.catalog", s.catalogPath)
	if err != nil {
		return repositories.CatalogRecords{}, err
	}
	defer file.Close()
	return DecodeCatalog(file)
}

// FetchRules reads and decodes the rules file.
func (s *FileSource) FetchRules(ctx context.Context) ([]repositories.RuleRecord, error) {
	file, err := s.open(ctx, "export.rules", s.rulesPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodeRules(file)
}

func (s *FileSource) open(ctx context.Context, op, path string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, &Error{op: op, err: errors.New("path not configured"), notFound: true}
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &Error{op: op, err: err, notFound: errors.Is(err, fs.ErrNotExist)}
	}
	return file, nil
}
