package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Chunk splits text into windows of size runes that overlap by overlap
// runes. Whitespace-only windows are dropped.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ContentHash identifies a chunk by the sha1 of its first n runes
func ContentHash(chunk string, n int) string {
	runes := []rune(chunk)
	if n > 0 && len(runes) > n {
		runes = runes[:n]
	}
	sum := sha1.Sum([]byte(string(runes)))
	return hex.EncodeToString(sum[:])
}
