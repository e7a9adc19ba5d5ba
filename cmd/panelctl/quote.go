package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/observability"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/textutil"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories/export"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

type quoteOptions struct {
	catalogPath string
	rulesPath   string
	product     string
	mesh        string
	color       string
	attachments []string
	width       string
	height      string
	length      string
	quantity    int
	asJSON      bool
}

func quoteCmd(root *rootOptions) *cobra.Command {
	opts := &quoteOptions{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a panel configuration against a catalog export",
		Long: `Price one configuration exactly as the API would, reading the catalog (and optionally the
recommendation rules) from export files.`,
		Example: `  panelctl quote --catalog catalog.yaml --product mesh_panel --mesh heavy \
    --width 96 --height 84 --attachment velcro --rules rules.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer func() { _ = logger.Sync() }()
			return runQuote(cmd.Context(), cmd.OutOrStdout(), *opts, observability.EventLogger(logger))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.catalogPath, "catalog", "", "catalog export file (YAML or JSON)")
	flags.StringVar(&opts.rulesPath, "rules", "", "rules export file; enables recommendations")
	flags.StringVar(&opts.product, "product", "", "product key")
	flags.StringVar(&opts.mesh, "mesh", "", "mesh type")
	flags.StringVar(&opts.color, "color", "", "color")
	flags.StringSliceVar(&opts.attachments, "attachment", nil, "attachment key (repeatable)")
	flags.StringVar(&opts.width, "width", "", "width in inches")
	flags.StringVar(&opts.height, "height", "", "height in inches")
	flags.StringVar(&opts.length, "length", "", "length in inches")
	flags.IntVar(&opts.quantity, "quantity", 1, "number of panels")
	flags.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("catalog")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("mesh")
	return cmd
}

func (o quoteOptions) configuration() (domain.PanelConfiguration, error) {
	width, err := parseDimension("width", o.width)
	if err != nil {
		return domain.PanelConfiguration{}, err
	}
	height, err := parseDimension("height", o.height)
	if err != nil {
		return domain.PanelConfiguration{}, err
	}
	length, err := parseDimension("length", o.length)
	if err != nil {
		return domain.PanelConfiguration{}, err
	}
	return domain.PanelConfiguration{
		ProductKey:  o.product,
		Width:       width,
		Height:      height,
		Length:      length,
		MeshType:    o.mesh,
		Color:       o.color,
		Attachments: append([]string(nil), o.attachments...),
		Quantity:    o.quantity,
	}, nil
}

func parseDimension(name, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a number", name, raw)
	}
	return value, nil
}

type quoteLineOutput struct {
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	OptionKey string `json:"optionKey"`
	Measure   string `json:"measure"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type recommendationOutput struct {
	RuleID     string `json:"ruleId"`
	ProductKey string `json:"productKey"`
	OptionKey  string `json:"optionKey"`
	Label      string `json:"label"`
	Quantity   int    `json:"quantity"`
	LineTotal  int64  `json:"lineTotal"`
}

type quoteOutput struct {
	CatalogVersion  string                 `json:"catalogVersion"`
	Currency        string                 `json:"currency"`
	Total           int64                  `json:"total"`
	Display         string                 `json:"display"`
	Lines           []quoteLineOutput      `json:"lines"`
	Recommendations []recommendationOutput `json:"recommendations,omitempty"`
	RuleErrors      []string               `json:"ruleErrors,omitempty"`
}

func runQuote(ctx context.Context, out io.Writer, opts quoteOptions, logger func(context.Context, string, map[string]any)) error {
	cfg, err := opts.configuration()
	if err != nil {
		return err
	}

	source := export.NewFileSource(opts.catalogPath, opts.rulesPath)
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

	breakdown, err := services.Quote(cfg, snap)
	if err != nil {
		var pricingErr *domain.PricingError
		if errors.As(err, &pricingErr) {
			return fmt.Errorf("unable to price: %w", err)
		}
		return err
	}

	result := quoteOutput{
		CatalogVersion: snap.Version,
		Currency:       breakdown.Currency,
		Total:          breakdown.Total,
		Display:        domain.FormatMinor(breakdown.Total, breakdown.Currency),
		Lines:          make([]quoteLineOutput, 0, len(breakdown.Lines)),
	}
	for _, line := range breakdown.Lines {
		result.Lines = append(result.Lines, quoteLineOutput{
			Kind:      string(line.Kind),
			Label:     line.Label,
			OptionKey: line.OptionKey,
			Measure:   line.Measure.String(),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}

	if opts.rulesPath != "" {
		provider, err := services.NewRuleProvider(services.RuleProviderDeps{
			Source:   source,
			Logger:   logger,
			Sanitize: textutil.StripMarkup,
		})
		if err != nil {
			return err
		}
		rules, err := provider.ActiveRules(ctx)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		items, ruleErrs := services.Recommend(cfg, breakdown, rules, snap)
		for _, item := range items {
			result.Recommendations = append(result.Recommendations, recommendationOutput{
				RuleID:     item.RuleID,
				ProductKey: item.ProductKey,
				OptionKey:  item.OptionKey,
				Label:      item.Label,
				Quantity:   item.Quantity,
				LineTotal:  item.LineTotal,
			})
		}
		for _, ruleErr := range ruleErrs {
			result.RuleErrors = append(result.RuleErrors, ruleErr.Error())
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeQuoteText(out, result)
}

func writeQuoteText(out io.Writer, result quoteOutput) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "catalog\t%s\n\n", result.CatalogVersion)
	fmt.Fprintln(tw, "KIND\tLABEL\tMEASURE\tUNIT\tQTY\tTOTAL")
	for _, line := range result.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			line.Kind,
			line.Label,
			line.Measure,
			domain.FormatMinor(line.UnitPrice, result.Currency),
			line.Quantity,
			domain.FormatMinor(line.LineTotal, result.Currency),
		)
	}
	fmt.Fprintf(tw, "\t\t\t\ttotal\t%s\n", result.Display)
	if len(result.Recommendations) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "RECOMMENDED\tRULE\tQTY\tTOTAL")
		for _, item := range result.Recommendations {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", item.Label, item.RuleID, item.Quantity, domain.FormatMinor(item.LineTotal, result.Currency))
		}
	}
	for _, ruleErr := range result.RuleErrors {
		fmt.Fprintf(tw, "warning: %s\n", ruleErr)
	}
	return tw.Flush()
}
