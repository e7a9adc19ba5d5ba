package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/MosquitoCurtains/new-sub007/internal/platform/firestore"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

const ruleCollection = "recommendationRules"

// RuleRepository reads recommendation rule documents. Inactive rules are returned too; filtering
// happens in the rule provider so that lint tooling sees every record.
type RuleRepository struct {
	rules *pfirestore.Collection[repositories.RuleRecord]
}

var _ repositories.RuleSource = (*RuleRepository)(nil)

// NewRuleRepository constructs a Firestore-backed rule source.
func NewRuleRepository(provider *pfirestore.Provider) (*RuleRepository, error) {
	rules, err := pfirestore.NewCollection[repositories.RuleRecord](provider, ruleCollection, decodeRule)
	if err != nil {
		return nil, err
	}
	return &RuleRepository{rules: rules}, nil
}

// FetchRules returns every rule record ordered by document ID.
func (r *RuleRepository) FetchRules(ctx context.Context) ([]repositories.RuleRecord, error) {
	docs, err := r.rules.List(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	records := make([]repositories.RuleRecord, 0, len(docs))
	for _, doc := range docs {
		record := doc.Data
		if record.ID == "" {
			record.ID = doc.ID
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeRule(snap *firestore.DocumentSnapshot) (repositories.RuleRecord, error) {
	return ruleFromData(snap.Data()), nil
}
