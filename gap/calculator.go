// Package gap computes the unprocessed star-count sub-ranges of a scan
// boundary and splits them into bounded units of work.
package gap

import (
	"sort"

	"untestables/model"
)

// Calculate returns the chunked complement of the processed star counts
// within bound, ordered ascending by start.
//
// Processed values outside the bound are ignored and duplicates collapse.
// Every returned gap spans at most chunkSize values. The output is
// deterministic for identical inputs, and an inverted bound yields nil.
func Calculate(processed []int, bound model.Bound, chunkSize int) []model.Gap {
	if bound.Min > bound.Max || chunkSize < 1 {
		return nil
	}

	relevant := filterSorted(processed, bound)

	var raw []model.Gap
	cursor := bound.Min
	for _, p := range relevant {
		if cursor > bound.Max {
			break
		}
		if p > cursor {
			end := p - 1
			if end > bound.Max {
				end = bound.Max
			}
			raw = append(raw, model.Gap{Start: cursor, End: end})
		}
		cursor = p + 1
	}
	if cursor <= bound.Max {
		raw = append(raw, model.Gap{Start: cursor, End: bound.Max})
	}

	return chunk(raw, chunkSize)
}

// filterSorted keeps the processed values inside the bound, deduplicated and
// sorted ascending.
func filterSorted(processed []int, bound model.Bound) []int {
	seen := make(map[int]struct{}, len(processed))
	out := make([]int, 0, len(processed))
	for _, p := range processed {
		if p < bound.Min || p > bound.Max {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// chunk splits each raw gap into consecutive sub-ranges of width <= chunkSize.
func chunk(raw []model.Gap, chunkSize int) []model.Gap {
	var out []model.Gap
	for _, g := range raw {
		current := g.Start
		for current <= g.End {
			end := current + chunkSize - 1
			if end > g.End {
				end = g.End
			}
			out = append(out, model.Gap{Start: current, End: end})
			current = end + 1
		}
	}
	return out
}
