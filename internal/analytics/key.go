package analytics

import (
	"strconv"
	"strings"
	"time"
)

// CacheKey identifies one computed series.
type CacheKey string

// BuildCacheKey derives the canonical key for a request.
//
// Field names are sorted and values carry a type tag, so two filters with the same
// content produce the same key regardless of construction order. The anchor month
// is part of the key: a series cached in January must not be served in February,
// when the window has moved.
func BuildCacheKey(variant Variant, monthsBack int, anchor time.Time, f Filter) CacheKey {
	anchor = anchor.UTC()

	var b strings.Builder
	b.WriteString(string(variant))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(monthsBack))
	b.WriteByte('|')
	b.WriteString(anchor.Format("2006-01"))
	b.WriteByte('|')
	for i, field := range f.Fields() {
		if i > 0 {
			b.WriteByte('&')
		}
		cond := f[field]
		b.WriteString(strconv.Quote(field))
		b.WriteByte('=')
		b.WriteString(string(cond.Op))
		b.WriteByte(':')
		b.WriteString(cond.Value.canonical())
	}
	return CacheKey(b.String())
}
