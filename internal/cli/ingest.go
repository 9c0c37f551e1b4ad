package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	ingestFile     string
	ingestDiscover bool
	ingestTimeout  time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [url...]",
	Short: "Fetch, chunk, embed and store pages in the corpus",
	Long: `Ingest seeds the document corpus. Each page is checked for size, fetched,
reduced to readable text, split into overlapping chunks and embedded.
Chunks already stored (by content hash) are skipped, so ingestion can be
re-run safely.

With --discover, root-like seed URLs also ingest up to ingest.discover_max
same-site links found on the seed page.

Example:
  credence ingest https://www.uscis.gov/working-in-the-united-states/h-1b-specialty-occupations
  credence ingest --file urls.txt --discover`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "file with one URL per line (# comments allowed)")
	ingestCmd.Flags().BoolVar(&ingestDiscover, "discover", false, "follow same-site links from root-like seed URLs")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "total timeout")
}

func runIngest(cmd *cobra.Command, args []string) error {
	urls := append([]string{}, args...)
	if ingestFile != "" {
		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("open url file: %w", err)
		}
		more, err := readURLs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs to ingest")
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

	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	var inserted, failed int
	for _, r := range a.ingester().Run(ctx, urls, ingestDiscover) {
		inserted += r.Inserted
		if r.Error != "" {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", r.URL, r.Error)
		} else {
			fmt.Fprintf(os.Stderr, "✓ %s (%d chunks, %d new, %d existing)\n", r.URL, r.Chunks, r.Inserted, r.Existing)
		}
		if err := writeCompactJSON(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	}

	total, err := a.store.CountDocuments(ctx)
	if err == nil {
		fmt.Fprintf(os.Stderr, "\n  Inserted: %d chunks\n  Failed:   %d pages\n  Corpus:   %d chunks\n", inserted, failed, total)
	}
	return nil
}

// readURLs reads one URL per line, skipping blanks and # comments
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

func writeCompactJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
