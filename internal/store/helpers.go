package store

import (
	"slices"
	"strings"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// maxBindParams bounds the bind parameters per IN (...) or OR chain.
const maxBindParams = 500

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sortedIDs(m map[int64]model.RowValues) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func chunkIDs(ids []int64) [][]int64 {
	return slices.Collect(slices.Chunk(ids, maxBindParams))
}

func chunkNumbers(numbers []model.DialerPhoneNumber) [][]model.DialerPhoneNumber {
	return slices.Collect(slices.Chunk(numbers, maxBindParams/2))
}

func anySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
