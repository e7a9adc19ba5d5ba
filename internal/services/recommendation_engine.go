package services

import (
	"fmt"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

// Recommend evaluates every active rule against a priced configuration. Matching rules are ranked by
// priority then ID; a rule suppresses lower-ranked rules it is exclusive with, in either direction.
// Failures are isolated per rule and returned alongside the items that could be produced.
func Recommend(cfg PanelConfiguration, breakdown PriceBreakdown, rules []RecommendationRule, snap CatalogSnapshot) ([]RecommendedItem, []RuleError) {
	cfg = cfg.Normalised()
	ranked := cloneRules(rules)
	sortRules(ranked)

	facts := newRuleFacts(cfg, breakdown)
	accepted := make(map[string]struct{}, len(ranked))
	suppressed := make(map[string]struct{})
	items := make([]RecommendedItem, 0, len(ranked))
	var ruleErrs []RuleError

	for _, rule := range ranked {
		if !rule.Active {
			continue
		}
		if !evaluateCondition(rule.Condition, facts) {
			continue
		}
		if _, blocked := suppressed[rule.ID]; blocked {
			continue
		}
		if excludedByAccepted(rule, accepted) {
			continue
		}

		quantity, err := computeQuantity(rule.Formula, cfg)
		if err != nil {
			ruleErrs = append(ruleErrs, RuleError{RuleID: rule.ID, Reason: err.Error()})
			continue
		}
		if quantity <= 0 {
			continue
		}

		priced, err := QuoteCatalogItem(rule.ProductKey, rule.OptionKey, quantity, snap)
		if err != nil {
			ruleErrs = append(ruleErrs, RuleError{
				RuleID: rule.ID,
				Reason: fmt.Sprintf("recommended item %s is not priced: %v", domain.NewCatalogKey(rule.ProductKey, rule.OptionKey), err),
			})
			continue
		}
		line := priced.Lines[0]

		accepted[rule.ID] = struct{}{}
		for _, other := range rule.ExclusiveWith {
			suppressed[other] = struct{}{}
		}
		items = append(items, RecommendedItem{
			RuleID:     rule.ID,
			ProductKey: line.ProductKey,
			OptionKey:  line.OptionKey,
			Label:      line.Label,
			Quantity:   quantity,
			UnitPrice:  line.UnitPrice,
			LineTotal:  priced.Total,
		})
	}
	return items, ruleErrs
}

func excludedByAccepted(rule RecommendationRule, accepted map[string]struct{}) bool {
	for _, other := range rule.ExclusiveWith {
		if _, ok := accepted[other]; ok {
			return true
		}
	}
	return false
}
