// Package export reads catalog and rule documents published by the admin tooling as YAML (or JSON,
// which is valid YAML) from a local file or a Cloud Storage bucket.
package export

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// RuleDocument is the top-level layout of a rules export.
type RuleDocument struct {
	Version string                    `yaml:"version"`
	Rules   []repositories.RuleRecord `yaml:"rules"`
}

// DecodeCatalog parses a catalog export.
func DecodeCatalog(r io.Reader) (repositories.CatalogRecords, error) {
	var records repositories.CatalogRecords
	if err := decode(r, &records); err != nil {
		return repositories.CatalogRecords{}, fmt.Errorf("export: decode catalog: %w", err)
	}
	return records, nil
}

// DecodeRules parses a rules export.
func DecodeRules(r io.Reader) ([]repositories.RuleRecord, error) {
	var doc RuleDocument
	if err := decode(r, &doc); err != nil {
		return nil, fmt.Errorf("export: decode rules: %w", err)
	}
	return doc.Rules, nil
}

func decode(r io.Reader, target any) error {
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("document is empty")
		}
		return err
	}
	return nil
}

// Error classifies export read failures for the service layer.
type Error struct {
	op       string
	err      error
	notFound bool
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports a missing file or object.
func (e *Error) IsNotFound() bool { return e.notFound }

// IsConflict is always false for read-only sources.
func (e *Error) IsConflict() bool { return false }

// IsUnavailable reports read failures other than a missing document.
func (e *Error) IsUnavailable() bool { return !e.notFound }
