package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// ErrRulesUnavailable indicates no rule set could be loaded.
var ErrRulesUnavailable = errors.New("rule provider: unavailable")

var errRuleSourceRequired = errors.New("rule provider: source is required")

// RuleProviderDeps wires the rule source and cache settings.
type RuleProviderDeps struct {
	Source   repositories.RuleSource
	TTL      time.Duration
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	Metrics  Metrics
	Sanitize func(string) string
}

type ruleProvider struct {
	source   repositories.RuleSource
	cache    *snapshotCache[[]RecommendationRule]
	logger   func(context.Context, string, map[string]any)
	sanitize func(string) string
}

// NewRuleProvider constructs a caching RuleProvider.
func NewRuleProvider(deps RuleProviderDeps) (RuleProvider, error) {
	if deps.Source == nil {
		return nil, errRuleSourceRequired
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}

	provider := &ruleProvider{source: deps.Source, logger: logger, sanitize: sanitize}
	provider.cache = newSnapshotCache("rules", ttl, provider.load, func() time.Time { return clock().UTC() }, logger, metrics)
	return provider, nil
}

func (p *ruleProvider) ActiveRules(ctx context.Context) ([]RecommendationRule, error) {
	rules, err := p.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return cloneRules(rules), nil
}

func (p *ruleProvider) Refresh(ctx context.Context) ([]RecommendationRule, error) {
	rules, err := p.cache.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return cloneRules(rules), nil
}

func (p *ruleProvider) Invalidate() {
	p.cache.Invalidate()
}

func (p *ruleProvider) load(ctx context.Context) ([]RecommendationRule, error) {
	ctx, span := otel.Tracer("github.com/MosquitoCurtains/new-sub007/internal/services").Start(ctx, "rules.load")
	defer span.End()

	records, err := p.source.FetchRules(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rules, ruleErrs := ParseRules(records)
	for _, ruleErr := range ruleErrs {
		p.logger(ctx, "rules.record_dropped", map[string]any{
			"ruleId": ruleErr.RuleID,
			"reason": ruleErr.Reason,
		})
	}
	active := rules[:0]
	for _, rule := range rules {
		if rule.Active {
			rule.Name = p.sanitize(rule.Name)
			active = append(active, rule)
		}
	}
	span.SetAttributes(attribute.Int("rules.active", len(active)), attribute.Int("rules.dropped", len(ruleErrs)))
	return active, nil
}

// ParseRules parses every record, isolating failures per rule. Duplicate IDs keep the first record.
// The result is ordered by priority then ID.
func ParseRules(records []repositories.RuleRecord) ([]RecommendationRule, []RuleError) {
	rules := make([]RecommendationRule, 0, len(records))
	var ruleErrs []RuleError
	seen := make(map[string]struct{}, len(records))
	for idx, record := range records {
		rule, err := ParseRule(record)
		if err != nil {
			id := strings.TrimSpace(record.ID)
			if id == "" {
				id = fmt.Sprintf("#%d", idx)
			}
			ruleErrs = append(ruleErrs, RuleError{RuleID: id, Reason: err.Error()})
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			ruleErrs = append(ruleErrs, RuleError{RuleID: rule.ID, Reason: "duplicate rule id"})
			continue
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}
	sortRules(rules)
	return rules, ruleErrs
}

func sortRules(rules []RecommendationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func cloneRules(rules []RecommendationRule) []RecommendationRule {
	out := make([]RecommendationRule, len(rules))
	copy(out, rules)
	for i := range out {
		out[i].ExclusiveWith = append([]string(nil), rules[i].ExclusiveWith...)
	}
	return out
}
