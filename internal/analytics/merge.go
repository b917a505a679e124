package analytics

type monthKey struct {
	year  int
	month int
}

// MergeCounts aligns raw grouped counts onto the axis. Missing months become 0,
// duplicate (year, month) entries are summed, and months outside the axis are dropped.
func MergeCounts(axis []MonthBucket, counts []GroupedCount) MonthlySeries {
	byMonth := make(map[monthKey]int64, len(counts))
	for _, gc := range counts {
		byMonth[monthKey{gc.Year, gc.Month}] += gc.Count
	}

	series := MonthlySeries{
		Months: make([]string, 0, len(axis)),
		Counts: make([]int64, 0, len(axis)),
	}
	for _, b := range axis {
		series.Months = append(series.Months, b.Label)
		series.Counts = append(series.Counts, byMonth[monthKey{b.Year, int(b.Month)}])
	}
	return series
}

// Cumulative returns a new series whose counts are running totals of s.
// s is not modified.
func Cumulative(s MonthlySeries) MonthlySeries {
	out := MonthlySeries{
		Months: make([]string, len(s.Months)),
		Counts: make([]int64, len(s.Counts)),
	}
	copy(out.Months, s.Months)

	var running int64
	for i, c := range s.Counts {
		running += c
		out.Counts[i] = running
	}
	return out
}
