package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credence/internal/credcheck"
)

var (
	verifyMode        string
	verifyBatch       string
	verifyConcurrency int
	verifyTimeout     time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file|-]",
	Short: "Check the credibility of cited claims",
	Long: `Verify re-derives how well each claim is supported by the pages it cites.

The full policy fetches every cited page and fuses snippet matching,
entailment, domain authority and freshness. The bypass policy scores
citations from their domains and snippets alone, without network access.

Batch mode reads a directory of *.json requests or a JSONL file and prints
one {source, envelope} line per request; a bad request fails only itself.

Example:
  credence verify request.json
  credence verify - --mode bypass < request.json
  credence verify --batch requests.jsonl --concurrency 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyMode, "mode", "full", "scoring policy (full, bypass)")
	verifyCmd.Flags().StringVar(&verifyBatch, "batch", "", "directory of *.json requests or a JSONL file")
	verifyCmd.Flags().IntVar(&verifyConcurrency, "concurrency", runtime.NumCPU(), "concurrent requests in batch mode")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 10*time.Minute, "total timeout")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if verifyBatch == "" && len(args) == 0 {
		return errors.New("a request file, '-' or --batch is required")
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
	defer cancel()

	v := a.verifier()
	if verifyBatch != "" {
		return runVerifyBatch(ctx, cmd.OutOrStdout(), v)
	}

	payload, err := readRequest(args[0])
	if err != nil {
		return err
	}
	env, err := v.Run(ctx, payload, verifyMode)
	if werr := writeJSON(cmd.OutOrStdout(), env); werr != nil {
		return werr
	}
	return err
}

func runVerifyBatch(ctx context.Context, w io.Writer, v *credcheck.Verifier) error {
	items, err := credcheck.ReadBatch(verifyBatch)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "⚙️  Verifying %d requests with %d workers...\n", len(items), verifyConcurrency)

	failures := 0
	for _, r := range v.RunBatch(ctx, items, verifyMode, verifyConcurrency) {
		if r.GetError() != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Source, r.GetError())
		}
		if err := writeCompactJSON(w, r); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "✓ %d succeeded, %d failed\n", len(items)-failures, failures)
	return nil
}

func readRequest(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return data, nil
}
