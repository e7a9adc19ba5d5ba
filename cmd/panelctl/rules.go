package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/observability"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/textutil"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories/export"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

func rulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect recommendation rules",
	}
	cmd.AddCommand(rulesLintCmd(root))
	return cmd
}

type lintOptions struct {
	rulesPath   string
	catalogPath string
}

func rulesLintCmd(root *rootOptions) *cobra.Command {
	opts := &lintOptions{}
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Report rules that fail to parse",
		Long: `Parse every rule in a rules export and report the ones the API would skip. With --catalog,
also report rules whose recommended item is missing from the catalog or inactive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer func() { _ = logger.Sync() }()
			return runRulesLint(cmd.Context(), cmd.OutOrStdout(), *opts, observability.EventLogger(logger))
		},
	}
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "rules export file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "catalog export file to check rule targets against")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

type lintProblem struct {
	ruleID string
	reason string
}

func runRulesLint(ctx context.Context, out io.Writer, opts lintOptions, logger func(context.Context, string, map[string]any)) error {
	source := export.NewFileSource(opts.catalogPath, opts.rulesPath)
	records, err := source.FetchRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	rules, ruleErrs := services.ParseRules(records)

	problems := make([]lintProblem, 0, len(ruleErrs))
	for _, ruleErr := range ruleErrs {
		problems = append(problems, lintProblem{ruleID: ruleErr.RuleID, reason: ruleErr.Reason})
	}

	if opts.catalogPath != "" {
		catalog, err := services.NewCatalogProvider(services.CatalogProviderDeps{
			Source:   source,
			Logger:   logger,
			Sanitize: textutil.StripMarkup,
		})
		if err != nil {
			return err
		}
		snap, err := catalog.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		for _, rule := range rules {
			if !rule.Active {
				continue
			}
			entry, ok := snap.Lookup(rule.ProductKey, rule.OptionKey)
			switch {
			case !ok:
				problems = append(problems, lintProblem{ruleID: rule.ID, reason: fmt.Sprintf("target %s/%s is not in the catalog", rule.ProductKey, rule.OptionKey)})
			case !entry.Active:
				problems = append(problems, lintProblem{ruleID: rule.ID, reason: fmt.Sprintf("target %s/%s is inactive", rule.ProductKey, rule.OptionKey)})
			case !entry.Unit.Discrete():
				problems = append(problems, lintProblem{ruleID: rule.ID, reason: fmt.Sprintf("target %s/%s is billed per %s, not per item", rule.ProductKey, rule.OptionKey, entry.Unit)})
			}
		}
	}

	active := 0
	for _, rule := range rules {
		if rule.Active {
			active++
		}
	}
	fmt.Fprintf(out, "%d rules parsed (%d active)\n", len(rules), active)
	for _, problem := range problems {
		fmt.Fprintf(out, "  %s: %s\n", problem.ruleID, problem.reason)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d rule problem(s) found", len(problems))
	}
	return nil
}
