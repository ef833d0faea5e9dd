package rescan

import (
	"fmt"
	"slices"

	redisclient "github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/redis"
)

// Range is an inclusive block range.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of blocks in the range.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// Split cuts the range into chunks of at most maxSize blocks.
func (r Range) Split(maxSize uint64) []Range {
	if maxSize == 0 || r.Size() <= maxSize {
		return []Range{r}
	}
	var chunks []Range
	for cur := r.Start; cur <= r.End; {
		end := min(cur+maxSize-1, r.End)
		chunks = append(chunks, Range{Start: cur, End: end})
		if end == r.End {
			break
		}
		cur = end + 1
	}
	return chunks
}

// Touches reports whether two ranges overlap or are adjacent.
func (r Range) Touches(other Range) bool {
	return r.Start <= other.End+1 && other.Start <= r.End+1
}

// MergeRanges collapses overlapping and adjacent ranges. The input is sorted in place.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) <= 1 {
		return ranges
	}
	slices.SortFunc(ranges, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	merged := []Range{ranges[0]}
	for _, cur := range ranges[1:] {
		last := &merged[len(merged)-1]
		if last.Touches(cur) {
			last.Start = min(last.Start, cur.Start)
			last.End = max(last.End, cur.End)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// ParseRanges parses "start-end" members.
func ParseRanges(members []string) ([]Range, error) {
	out := make([]Range, 0, len(members))
	for _, m := range members {
		start, end, err := redisclient.ParseRangeString(m)
		if err != nil {
			return nil, err
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out, nil
}
