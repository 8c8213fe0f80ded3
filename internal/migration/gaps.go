package migration

import "sort"

// FindGaps returns the version numbers missing from the given sequence,
// scanning between its minimum and maximum. Gaps are suspicious (a file
// may have been deleted) but an intentionally squashed range looks the
// same, so callers report them as warnings.
func FindGaps(versions []int64) []int64 {
	if len(versions) < 2 {
		return nil
	}

	sorted := make([]int64, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var gaps []int64

	for i := 1; i < len(sorted); i++ {
		for v := sorted[i-1] + 1; v < sorted[i]; v++ {
			gaps = append(gaps, v)
		}
	}

	return gaps
}
