package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credence/internal/ingest"
)

var goldLimit int

var goldCmd = &cobra.Command{
	Use:   "gold",
	Short: "Search and load curated golden answers",
}

var goldSearchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Show golden-answer candidates and their classification",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger, needs{embedding: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res := a.pipeline().GoldSearch(ctx, strings.Join(args, " "), goldLimit)
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var goldAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Load golden answers from a YAML or JSON file",
	Long: `Add embeds each curated question and answer and upserts them into the
gold index. Entries without an id get one derived from the question, so
reloading a file updates instead of duplicating.

Example:
  credence gold add gold.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := ingest.LoadGold(args[0])
		if err != nil {
			return err
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger, needs{embedding: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		n, err := ingest.AddGold(ctx, a.embedder, a.store, answers, logger)
		fmt.Fprintf(os.Stderr, "✓ Stored %d of %d golden answers\n", n, len(answers))
		return err
	},
}

func init() {
	rootCmd.AddCommand(goldCmd)
	goldCmd.AddCommand(goldSearchCmd)
	goldCmd.AddCommand(goldAddCmd)

	goldSearchCmd.Flags().IntVar(&goldLimit, "limit", 5, "candidates per index")
}
