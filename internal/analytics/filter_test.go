package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchasedash/internal/core"
)

var since = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestCompileFilter_SortsConditions(t *testing.T) {
	pred, err := CompileFilter(since, Filter{
		"totalAmount": Gte(Float(10.5)),
		"status":      Eq(String("paid")),
		"categoryId":  In(String("c1"), String("c2")),
	})
	require.NoError(t, err)

	assert.Equal(t, since, pred.Since)
	require.Len(t, pred.Conditions, 3)
	assert.Equal(t, "categoryId", pred.Conditions[0].Field)
	assert.Equal(t, "status", pred.Conditions[1].Field)
	assert.Equal(t, "totalAmount", pred.Conditions[2].Field)
	assert.Equal(t, []interface{}{"c1", "c2"}, pred.Conditions[0].Value.Interface())
}

func TestCompileFilter_Empty(t *testing.T) {
	pred, err := CompileFilter(since, nil)
	require.NoError(t, err)
	assert.Empty(t, pred.Conditions)
	assert.Equal(t, since, pred.Since)
}

func TestCompileFilter_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
	}{
		{"reserved time field", Filter{"createdAt": Gte(String("2020-01-01"))}},
		{"reserved field any case", Filter{"CREATEDAT": Eq(Int(1))}},
		{"reserved snake case", Filter{"created_at": Eq(Int(1))}},
		{"empty field", Filter{" ": Eq(String("x"))}},
		{"unknown operator", Filter{"status": {Op: "like", Value: String("p%")}}},
		{"in without list", Filter{"status": {Op: OpIn, Value: String("paid")}}},
		{"empty in", Filter{"status": In()}},
		{"nested list", Filter{"status": In(List(String("a")))}},
		{"list for eq", Filter{"status": Eq(List(String("a")))}},
		{"missing value", Filter{"status": {Op: OpEq}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFilter(since, tt.filter)
			require.Error(t, err)
			assert.True(t, core.IsType(err, core.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestBuildCacheKey_Canonical(t *testing.T) {
	anchor := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	a := Filter{"status": Eq(String("paid")), "supplierId": In(String("a"), String("b"))}
	b := Filter{"supplierId": In(String("b"), String("a")), "status": Eq(String("paid"))}
	assert.Equal(t,
		BuildCacheKey(VariantDiscrete, 6, anchor, a),
		BuildCacheKey(VariantDiscrete, 6, anchor, b),
	)

	distinct := []CacheKey{
		BuildCacheKey(VariantDiscrete, 6, anchor, a),
		BuildCacheKey(VariantCumulative, 6, anchor, a),
		BuildCacheKey(VariantDiscrete, 7, anchor, a),
		BuildCacheKey(VariantDiscrete, 6, anchor.AddDate(0, 1, 0), a),
		BuildCacheKey(VariantDiscrete, 6, anchor, nil),
		BuildCacheKey(VariantDiscrete, 6, anchor, Filter{"totalAmount": Eq(Int(1))}),
		BuildCacheKey(VariantDiscrete, 6, anchor, Filter{"totalAmount": Eq(Float(1))}),
		BuildCacheKey(VariantDiscrete, 6, anchor, Filter{"totalAmount": Eq(String("1"))}),
		BuildCacheKey(VariantDiscrete, 6, anchor, Filter{"totalAmount": Ne(Int(1))}),
	}
	seen := make(map[CacheKey]bool)
	for _, k := range distinct {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
}

func TestBuildCacheKey_QuotesSeparators(t *testing.T) {
	anchor := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	tricky := Filter{"status": Eq(String(`paid"&x=eq:s:"y`))}
	split := Filter{"status": Eq(String("paid")), "x": Eq(String("y"))}
	assert.NotEqual(t,
		BuildCacheKey(VariantDiscrete, 6, anchor, tricky),
		BuildCacheKey(VariantDiscrete, 6, anchor, split),
	)
}

func TestTimeSeriesRequest_Immutable(t *testing.T) {
	f := Filter{"status": Eq(String("paid")), "supplierId": In(String("a"))}
	req := NewTimeSeriesRequest(3, f)

	f["status"] = Eq(String("pending"))
	delete(f, "supplierId")

	got := req.Filter()
	assert.Equal(t, Eq(String("paid")), got["status"])
	assert.Contains(t, got, "supplierId")

	got["extra"] = Eq(Bool(true))
	assert.NotContains(t, req.Filter(), "extra")
	assert.Equal(t, 3, req.MonthsBack())
}

func TestTimeSeriesRequest_String(t *testing.T) {
	assert.Equal(t, "monthsBack=6", DefaultRequest().String())

	req := NewTimeSeriesRequest(2, Filter{"status": Eq(String("paid"))})
	assert.Equal(t, `monthsBack=2 filter={status eq s:"paid"}`, req.String())
}

func TestValue_Interface(t *testing.T) {
	assert.Equal(t, "x", String("x").Interface())
	assert.Equal(t, int64(3), Int(3).Interface())
	assert.Equal(t, 2.5, Float(2.5).Interface())
	assert.Equal(t, true, Bool(true).Interface())
	assert.Nil(t, Value{}.Interface())
	assert.Nil(t, String("x").Items())
	assert.Len(t, List(Int(1), Int(2)).Items(), 2)
}
