package store

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/ppiankov/credence/internal/embed"
)

// encodeVector stores a vector as little-endian float32s
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineDistance follows the 0 = identical, 2 = opposite convention
func cosineDistance(a, b []float32) float64 {
	return 1 - embed.Cosine(a, b)
}

type ranked[T any] struct {
	item     T
	distance float64
}

// nearest orders rows by ascending distance, keeping insertion order on ties
func nearest[T any](rows []ranked[T], limit int) []ranked[T] {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].distance < rows[j].distance
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
