package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

const catalogYAML = `
version: "2026-03"
currency: USD
entries:
  - productKey: mesh
    optionKey: heavy
    label: Heavy mesh
    rate: "1.75"
    unit: sqft
    active: true
    tiers:
      label: Oversize handling
      boundary: higher
      breakpoints:
        - threshold: "96"
          fee: "15.00"
  - productKey: attachment
    optionKey: velcro
    label: Velcro
    rate: "0.50"
    unit: inch
    active: false
`

const rulesYAML = `
version: "2026-03"
rules:
  - id: stucco-strips
    name: Stucco strips
    priority: 10
    active: true
    exclusiveWith: [velcro-strips]
    productKey: stucco_strip
    condition:
      op: all
      conditions:
        - field: attachment
          op: has
          value: stucco
        - field: width
          op: gte
          value: 36
    formula:
      kind: spacing
      measure: width
      every: 36
      rounding: ceil
`

func TestDecodeCatalog(t *testing.T) {
	records, err := DecodeCatalog(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if records.Version != "2026-03" || records.Currency != "USD" || len(records.Entries) != 2 {
		t.Fatalf("unexpected records %+v", records)
	}
	mesh := records.Entries[0]
	if mesh.Rate != "1.75" || mesh.Tiers == nil || len(mesh.Tiers.Breakpoints) != 1 {
		t.Fatalf("unexpected mesh entry %+v", mesh)
	}
	if records.Entries[1].Active {
		t.Fatalf("expected velcro to be inactive")
	}
}

func TestDecodeRulesKeepsNestedMaps(t *testing.T) {
	rules, err := DecodeRules(strings.NewReader(rulesYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	rule := rules[0]
	if rule.ID != "stucco-strips" || rule.Priority != 10 || !rule.Active {
		t.Fatalf("unexpected rule %+v", rule)
	}
	conditions, ok := rule.Condition["conditions"].([]any)
	if !ok || len(conditions) != 2 {
		t.Fatalf("expected nested conditions, got %#v", rule.Condition["conditions"])
	}
	if rule.Formula["every"] != 36 {
		t.Fatalf("expected integer spacing, got %#v", rule.Formula["every"])
	}
}

func TestDecodeRejectsEmptyDocument(t *testing.T) {
	if _, err := DecodeCatalog(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty document")
	}
	if _, err := DecodeRules(strings.NewReader("rules: {not: a list}")); err == nil {
		t.Fatalf("expected error for malformed rules")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	rulesPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := os.WriteFile(rulesPath, []byte(rulesYAML), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	source := NewFileSource(catalogPath, rulesPath)
	ctx := context.Background()
	if records, err := source.FetchCatalog(ctx); err != nil || len(records.Entries) != 2 {
		t.Fatalf("fetch catalog: %v %+v", err, records)
	}
	if rules, err := source.FetchRules(ctx); err != nil || len(rules) != 1 {
		t.Fatalf("fetch rules: %v %+v", err, rules)
	}

	missing := NewFileSource(filepath.Join(dir, "absent.yaml"), "")
	_, err := missing.FetchCatalog(ctx)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := missing.FetchRules(ctx); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected unconfigured rules path to be not found, got %v", err)
	}
}

type stubOpener struct {
	objects map[string]string
	err     error
	calls   []string
}

func (s *stubOpener) OpenObject(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	s.calls = append(s.calls, bucket+"/"+object)
	if s.err != nil {
		return nil, s.err
	}
	body, ok := s.objects[object]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

func TestBucketSource(t *testing.T) {
	opener := &stubOpener{objects: map[string]string{
		"catalog/catalog.yaml": catalogYAML,
		"catalog/rules.yaml":   rulesYAML,
	}}
	source, err := NewBucketSource(opener, "panels-exports", "catalog/catalog.yaml", "catalog/rules.yaml")
	if err != nil {
		t.Fatalf("new bucket source: %v", err)
	}
	ctx := context.Background()

	records, err := source.FetchCatalog(ctx)
	if err != nil || records.Version != "2026-03" {
		t.Fatalf("fetch catalog: %v %+v", err, records)
	}
	rules, err := source.FetchRules(ctx)
	if err != nil || len(rules) != 1 {
		t.Fatalf("fetch rules: %v %+v", err, rules)
	}
	if opener.calls[0] != "panels-exports/catalog/catalog.yaml" {
		t.Fatalf("unexpected object path %s", opener.calls[0])
	}

	delete(opener.objects, "catalog/rules.yaml")
	_, err = source.FetchRules(ctx)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for missing object, got %v", err)
	}

	opener.err = errors.New("503 backend error")
	_, err = source.FetchCatalog(ctx)
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable, got %v", err)
	}

	opener.err = context.DeadlineExceeded
	if _, err := source.FetchCatalog(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to pass through, got %v", err)
	}
}

func TestNewBucketSourceValidates(t *testing.T) {
	if _, err := NewBucketSource(nil, "b", "c", "r"); err == nil {
		t.Fatalf("expected error for nil opener")
	}
	if _, err := NewBucketSource(&stubOpener{}, " ", "c", "r"); err == nil {
		t.Fatalf("expected error for blank bucket")
	}
}
