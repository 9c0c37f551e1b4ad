package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/pipeline"
)

var (
	askTimeout time.Duration
	askJSON    bool
	sourcesTop int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question from the corpus",
	Long: `Ask runs the full answer pipeline for one question: golden-answer
lookup, routing, retrieval, reranking, the confidence gate, synthesis and
claim extraction.

Example:
  credence ask "What is the H-1B registration fee?"
  credence ask "How do I extend OPT?" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources <query>",
	Short: "List the nearest corpus documents for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sourcesCmd)

	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "overall answer timeout")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")

	sourcesCmd.Flags().IntVar(&sourcesTop, "top-k", 5, "number of sources")
	sourcesCmd.Flags().DurationVar(&askTimeout, "timeout", 30*time.Second, "lookup timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, needs{llm: true, embedding: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	resp, err := a.pipeline().Answer(ctx, model.Query{Text: strings.Join(args, " ")})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if askJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printAnswer(cmd.OutOrStdout(), resp)
	return nil
}

func printAnswer(w io.Writer, resp *pipeline.Response) {
	fmt.Fprintln(w, resp.Text)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, s := range resp.Sources {
			if s.URL != "" {
				fmt.Fprintf(w, "  [%d] %s - %s\n", s.ID, s.Title, s.URL)
			} else {
				fmt.Fprintf(w, "  [%d] %s\n", s.ID, s.Title)
			}
		}
	}
	if len(resp.Claims) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Claims:")
		for _, c := range resp.Claims {
			mark := "✗"
			if c.Verified {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s %s\n", mark, c.Text)
		}
	}
	fmt.Fprintf(os.Stderr, "\nmode: %s, claims: %s\n", resp.Mode, resp.ClaimsStatus)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, needs{embedding: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	sources, err := a.pipeline().Sources(ctx, strings.Join(args, " "), sourcesTop)
	if err != nil {
		return fmt.Errorf("sources failed: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"sources": sources})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
