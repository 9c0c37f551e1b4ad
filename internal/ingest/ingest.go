// Package ingest seeds the document corpus from web pages and loads
// curated gold answers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/fetch"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/worker"
)

// ErrTooLarge is returned for pages over the size limit
var ErrTooLarge = errors.New("ingest: page too large")

// ErrTooLittleText is returned for pages with almost no readable text
var ErrTooLittleText = errors.New("ingest: extracted text too short")

// PageSource fetches pages and probes their size
type PageSource interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
	Head(ctx context.Context, rawURL string) (*fetch.HeadInfo, error)
}

// Store is where ingested chunks go
type Store interface {
	InsertDocument(ctx context.Context, doc model.Document, contentHash string) (bool, error)
	HasContentHash(ctx context.Context, contentHash string) (bool, error)
	RecordLargeFile(ctx context.Context, url string, size int64) error
	IsLargeFile(ctx context.Context, url string) (bool, error)
}

// Report summarizes one ingested URL
type Report struct {
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Chunks   int           `json:"chunks"`
	Inserted int           `json:"inserted"`
	Existing int           `json:"existing"`
	Failed   int           `json:"failed"`
	Large    bool          `json:"large,omitempty"`
	Links    []string      `json:"links,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Ingester fetches, chunks, embeds and stores pages
type Ingester struct {
	pages    PageSource
	embedder embed.Embedder
	store    Store
	cfg      model.IngestConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates an ingester; logger and collector may be nil
func New(pages PageSource, e embed.Embedder, s Store, cfg model.IngestConfig, logger *zap.Logger, m *metrics.Collector) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{pages: pages, embedder: e, store: s, cfg: cfg, logger: logger, metrics: m}
}

// IngestURL stores the chunks of one page. Chunks already in the store are
// skipped, so re-running is idempotent. Pages over the size limit are only
// recorded as large files.
func (in *Ingester) IngestURL(ctx context.Context, rawURL string) (*Report, error) {
	defer in.metrics.ObserveStage("ingest", time.Now())
	start := time.Now()
	report := &Report{URL: rawURL}
	defer func() { report.Duration = time.Since(start) }()

	if large, err := in.store.IsLargeFile(ctx, rawURL); err == nil && large {
		report.Large = true
		return report, ErrTooLarge
	}

	// 1. Size check
	if info, err := in.pages.Head(ctx, rawURL); err == nil && info.StatusCode < 400 && in.tooLarge(info.ContentLength) {
		report.Large = true
		if err := in.store.RecordLargeFile(ctx, rawURL, info.ContentLength); err != nil {
			return report, fmt.Errorf("record large file: %w", err)
		}
		in.logger.Info("page over size limit, recorded", zap.String("url", rawURL), zap.Int64("bytes", info.ContentLength))
		return report, ErrTooLarge
	}

	// 2. Fetch and extract text
	page, err := in.pages.Fetch(ctx, rawURL)
	if err != nil {
		return report, fmt.Errorf("fetch: %w", err)
	}
	report.Title = page.Title
	if report.Title == "" {
		report.Title = rawURL
	}
	if len([]rune(page.Text)) < in.cfg.MinTextChars {
		return report, ErrTooLittleText
	}
	if IsRootLike(rawURL) {
		report.Links = DiscoverLinks(rawURL, page.Links, in.cfg.DiscoverMax)
	}

	// 3. Chunk, embed and store batch by batch
	chunks := Chunk(page.Text, in.cfg.ChunkChars, in.cfg.ChunkOverlap)
	report.Chunks = len(chunks)

	batch := in.cfg.EmbedBatch
	if batch <= 0 {
		batch = 32
	}
	for i := 0; i < len(chunks); i += batch {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := in.storeBatch(ctx, report, chunks[i:min(i+batch, len(chunks))]); err != nil {
			return report, err
		}
	}

	in.logger.Info("page ingested",
		zap.String("url", rawURL),
		zap.Int("chunks", report.Chunks),
		zap.Int("inserted", report.Inserted),
		zap.Int("existing", report.Existing),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

type embedded struct {
	hash   string
	vec    []float32
	exists bool
	err    error
}

// storeBatch embeds the new chunks of one batch concurrently and inserts
// them in order. An embedding failure skips that chunk; a store failure
// stops the page.
func (in *Ingester) storeBatch(ctx context.Context, report *Report, chunks []string) error {
	workers := in.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	results := worker.Map(ctx, workers, chunks, func(ctx context.Context, chunk string) embedded {
		e := embedded{hash: ContentHash(chunk, in.cfg.HashChars)}
		if e.exists, e.err = in.store.HasContentHash(ctx, e.hash); e.err != nil || e.exists {
			return e
		}
		e.vec, e.err = in.embedder.Embed(ctx, chunk)
		in.metrics.OracleCall("embedding", e.err)
		return e
	})

	for i, r := range results {
		switch {
		case r.hash == "":
			// never ran: the context was cancelled
			report.Failed++
			continue
		case r.exists:
			report.Existing++
			continue
		case r.err != nil:
			in.logger.Warn("chunk skipped", zap.String("url", report.URL), zap.Error(r.err))
			report.Failed++
			continue
		}

		doc := model.Document{
			ID:          uuid.NewString(),
			Content:     chunks[i],
			SourceTitle: report.Title,
			SourceURL:   report.URL,
			Embedding:   r.vec,
		}
		inserted, err := in.store.InsertDocument(ctx, doc, r.hash)
		if err != nil {
			return fmt.Errorf("store chunk: %w", err)
		}
		if inserted {
			report.Inserted++
		} else {
			report.Existing++
		}
	}
	return nil
}

func (in *Ingester) tooLarge(size int64) bool {
	return in.cfg.MaxBytes > 0 && size > in.cfg.MaxBytes
}

// Run ingests every URL. With discover set, the links found on root-like
// seed pages are ingested too, one level deep. Each URL is visited once;
// failures are reported per URL.
func (in *Ingester) Run(ctx context.Context, urls []string, discover bool) []*Report {
	type target struct {
		url  string
		seed bool
	}
	queue := make([]target, 0, len(urls))
	for _, u := range urls {
		queue = append(queue, target{url: u, seed: true})
	}

	seen := make(map[string]bool)
	var reports []*Report
	for len(queue) > 0 && ctx.Err() == nil {
		t := queue[0]
		queue = queue[1:]
		if seen[t.url] {
			continue
		}
		seen[t.url] = true

		report, err := in.IngestURL(ctx, t.url)
		if err != nil {
			report.Error = err.Error()
			in.logger.Warn("ingest failed", zap.String("url", t.url), zap.Error(err))
		}
		reports = append(reports, report)

		if discover && t.seed {
			for _, l := range report.Links {
				queue = append(queue, target{url: l})
			}
		}
	}
	return reports
}
