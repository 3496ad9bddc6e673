package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryan-buckman/archaeo/internal/catalog"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/spf13/cobra"
)

var (
	forceRefresh bool
	searchQuery  string
	facetFlags   []string
	savedOnly    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <source>",
	Short: "Load one feed and print its articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		src, ok := a.sources.Lookup(cmd.Context(), args[0])
		if !ok {
			return fmt.Errorf("source %q: %w", args[0], model.ErrNotFound)
		}
		items, res := a.loader.LoadFeed(cmd.Context(), src, forceRefresh)
		if res.Status != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Status)
		}
		items = catalog.Articles.Filter(items, catalog.Selection{Query: searchQuery})
		for _, it := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", it.Title, it.Link)
		}
		// A saved copy is a usable answer; only an empty result fails.
		if res.Source == model.SourceEmpty {
			return res.Err
		}
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog <domain>",
	Short: "Filter a catalog and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, ok := model.ParseDomain(args[0])
		if !ok {
			return fmt.Errorf("domain %q: %w", args[0], model.ErrNotFound)
		}
		c, ok := catalog.Lookup(d)
		if !ok || d == model.DomainNews {
			return fmt.Errorf("domain %q has no catalog: %w", args[0], model.ErrNotFound)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		u := a.catalogs[d]
		if u == "" {
			return fmt.Errorf("no endpoint configured for %s: %w", d, model.ErrNotFound)
		}
		req := fetch.CatalogRequest(d, u, a.stale[d])
		req.Force = forceRefresh
		res := a.loader.Load(cmd.Context(), req)
		if res.Status != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Status)
		}

		sel := catalog.Selection{Query: searchQuery, Facets: map[string]string{}, SavedOnly: savedOnly}
		for _, f := range facetFlags {
			name, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("facet %q: want name=value: %w", f, model.ErrFormat)
			}
			sel.Facets[name] = value
		}
		if savedOnly {
			set, err := a.bookmarks.Get(d)
			if err != nil {
				return err
			}
			sel.Saved = set.IDs()
		}

		v, err := c.View(res.Items, sel)
		if err != nil {
			return err
		}
		v.Source, v.Status = res.Source, res.Status
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

func init() {
	for _, c := range []*cobra.Command{fetchCmd, catalogCmd} {
		c.Flags().BoolVar(&forceRefresh, "refresh", false, "bypass a fresh cache")
		c.Flags().StringVarP(&searchQuery, "q", "q", "", "search text")
	}
	catalogCmd.Flags().StringArrayVar(&facetFlags, "facet", nil, "facet filter name=value (repeatable)")
	catalogCmd.Flags().BoolVar(&savedOnly, "saved", false, "only bookmarked records")
}
