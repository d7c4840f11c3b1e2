package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected float64
		ok       bool
	}{
		{"Comma separator with euro", "34,99 €", 34.99, true},
		{"Dot separator", "34.99", 34.99, true},
		{"Leading text", "Desde 34,99 €", 34.99, true},
		{"Currency before", "€ 45,50", 45.50, true},
		{"Non-breaking space", "29,99\u00a0€", 29.99, true},
		{"Literal nbsp entity", "29,99&nbsp;€", 29.99, true},
		{"Narrow no-break space", "19,90\u202f€", 19.90, true},
		{"First amount wins", "Antes 44,99 € ahora 34,99 €", 44.99, true},
		{"Three decimals are not a price", "34,999", 0, false},
		{"Whole number string", "35 €", 0, false},
		{"Single decimal", "34,9 €", 0, false},
		{"Text only", "Agotado", 0, false},
		{"Empty string", "", 0, false},
		{"Blank string", "   ", 0, false},
		{"Nil", nil, 0, false},
		{"Float passthrough", 34.9, 34.9, true},
		{"Int passthrough", 35, 35, true},
		{"Int64 passthrough", int64(42), 42, true},
		{"JSON number", json.Number("27.5"), 27.5, true},
		{"Negative number", -3.5, 0, false},
		{"NaN", math.NaN(), 0, false},
		{"Unsupported type", []string{"34,99"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := CleanPrice(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, value, 0.0001)
		})
	}
}

func TestCleanPriceNumericIdempotence(t *testing.T) {
	for _, input := range []interface{}{34.99, 12.5, 100, "64,90 €"} {
		first, ok := CleanPrice(input)
		assert.True(t, ok)

		again, ok := CleanPrice(first)
		assert.True(t, ok)
		assert.Equal(t, first, again)

		formatted, ok := CleanPrice(strconv.FormatFloat(first, 'f', 2, 64))
		assert.True(t, ok)
		assert.InDelta(t, first, formatted, 0.0001)
	}
}

func TestParseAmount(t *testing.T) {
	value, ok := ParseAmount("Total: 1299,00")
	assert.True(t, ok)
	assert.Equal(t, 1299.0, value)

	_, ok = ParseAmount("Tel. 912 345 678")
	assert.False(t, ok)
}
