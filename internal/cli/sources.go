package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/bryan-buckman/archaeo/internal/opml"
	"github.com/bryan-buckman/archaeo/internal/sources"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and convert the feed source list",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective source list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		for _, s := range a.sources.List(cmd.Context()) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Name, s.URL)
		}
		return nil
	},
}

var sourcesExportCmd = &cobra.Command{
	Use:   "export <file.opml>",
	Short: "Write the effective source list as OPML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		list := a.sources.List(cmd.Context())
		data, err := opml.Export("archaeo sources", list, time.Now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", args[0], err)
		}
		log.Info("sources exported", zap.String("file", args[0]), zap.Int("count", len(list)))
		return nil
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <in.opml> <out.yaml>",
	Short: "Convert an OPML subscription list into a sources file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := sources.LoadFile(args[0])
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(list)
		if err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", args[1], err)
		}
		log.Info("sources imported", zap.String("from", args[0]), zap.String("to", args[1]), zap.Int("count", len(list)))
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesExportCmd, sourcesImportCmd)
}
