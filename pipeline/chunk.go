package pipeline

import (
	"github.com/goliatone/go-ingest/core"
)

// ChunkSteps is the monotone chunk size step function: files under
// LargeFileRows rows use Small, larger files use Large.
type ChunkSteps struct {
	Small         int
	Large         int
	LargeFileRows int
}

func DefaultChunkSteps() ChunkSteps {
	return ChunkSteps{Small: 1000, Large: 10000, LargeFileRows: 10000}
}

func (s ChunkSteps) Size(totalRows int) int {
	defaults := DefaultChunkSteps()
	small, large, threshold := s.Small, s.Large, s.LargeFileRows
	if small <= 0 {
		small = defaults.Small
	}
	if large < small {
		large = small
	}
	if threshold <= 0 {
		threshold = defaults.LargeFileRows
	}
	if totalRows < threshold {
		return small
	}
	return large
}

// ProgressInterval returns how many accepted rows pass between progress writes.
func ProgressInterval(totalRows int) int {
	switch {
	case totalRows < 1000:
		return 10
	case totalRows < 10000:
		return 50
	case totalRows < 100000:
		return 100
	default:
		return 1000
	}
}

// MidProgress maps accepted rows onto the 10..90 processing band.
func MidProgress(accepted, totalRows int) float64 {
	if totalRows <= 0 {
		return 10
	}
	return min(90, 10+float64(accepted)/float64(totalRows)*80)
}

// Dedup keeps one row per lower-cased sku, ordered by first appearance and
// carrying the values of the last appearance.
func Dedup(rows []core.ProductUpsert) []core.ProductUpsert {
	index := make(map[string]int, len(rows))
	out := make([]core.ProductUpsert, 0, len(rows))
	for _, row := range rows {
		key := core.NormalizeSKU(row.SKU)
		row.SKU = key
		if position, ok := index[key]; ok {
			out[position] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}
