package registry

import "strings"

// AnyOf builds a disjunctive equality filter: field eq 'a' or field eq 'b'.
func AnyOf(field string, values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = field + " eq '" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(parts, " or ")
}

// Chunk splits ids into consecutive batches of at most size.
func Chunk(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
