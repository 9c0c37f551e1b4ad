package credcheck

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/credence/internal/worker"
)

// maxBatchLine bounds one JSONL request
const maxBatchLine = 4 << 20

// BatchItem is one request of a batch
type BatchItem struct {
	Source  string
	Payload []byte
}

// BatchResult is the outcome of one batch item
type BatchResult struct {
	Source   string   `json:"source"`
	Envelope Envelope `json:"envelope"`
	err      error
}

// GetError returns the verification error, if any
func (r *BatchResult) GetError() error {
	return r.err
}

// VerifyJob runs one batch item
type VerifyJob struct {
	Item     BatchItem
	Mode     string
	Verifier *Verifier
}

// Execute implements worker.Job
func (j *VerifyJob) Execute(ctx context.Context) worker.Result {
	env, err := j.Verifier.Run(ctx, j.Item.Payload, j.Mode)
	return &BatchResult{Source: j.Item.Source, Envelope: env, err: err}
}

// RunBatch verifies every item with bounded concurrency. Each item gets
// its own envelope, so one bad request does not sink the batch. Results
// keep item order.
func (v *Verifier) RunBatch(ctx context.Context, items []BatchItem, mode string, concurrency int) []*BatchResult {
	if len(items) == 0 {
		return []*BatchResult{}
	}

	pool := worker.NewPool(ctx, concurrency)
	pool.Start()
	for _, item := range items {
		if !pool.Submit(&VerifyJob{Item: item, Mode: mode, Verifier: v}) {
			break
		}
	}
	results := pool.Wait()

	out := make([]*BatchResult, len(items))
	for i := range items {
		if i < len(results) && results[i] != nil {
			out[i] = results[i].(*BatchResult)
			continue
		}
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		err := fmt.Errorf("not run: %w", cause)
		out[i] = &BatchResult{Source: items[i].Source, Envelope: Envelope{Error: err.Error()}, err: err}
	}
	return out
}

// ReadBatch loads requests from a JSONL file (one request per line, blank
// lines and # comments skipped) or from every *.json file in a directory.
func ReadBatch(path string) ([]BatchItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat batch: %w", err)
	}
	if info.IsDir() {
		return readBatchDir(path)
	}
	return readBatchLines(path)
}

func readBatchDir(dir string) ([]BatchItem, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list batch dir: %w", err)
	}
	sort.Strings(matches)

	items := make([]BatchItem, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m, err)
		}
		items = append(items, BatchItem{Source: filepath.Base(m), Payload: data})
	}
	return items, nil
}

func readBatchLines(path string) ([]BatchItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}
	defer func() { _ = file.Close() }()

	var items []BatchItem
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxBatchLine)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || strings.HasPrefix(string(text), "#") {
			continue
		}
		payload := make([]byte, len(text))
		copy(payload, text)
		items = append(items, BatchItem{Source: fmt.Sprintf("%s:%d", filepath.Base(path), line), Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return items, nil
}
