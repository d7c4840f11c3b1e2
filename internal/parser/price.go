package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/prothunter/internal/models"
)

var (
	// digits, a decimal separator and exactly two digits not followed by a further digit
	amountPattern = regexp.MustCompile(`(\d+)[.,](\d{2})(?:\D|$)`)

	whitespaceArtifacts = strings.NewReplacer(
		"&nbsp;", " ",
		"\u00a0", " ",
		"\u202f", " ",
	)
)

// NormalizeText strips non-breaking space artifacts from scraped text.
func NormalizeText(text string) string {
	return whitespaceArtifacts.Replace(text)
}

// ParseAmount parses the first two-decimal amount in text, accepting either
// '.' or ',' as the separator.
func ParseAmount(text string) (float64, bool) {
	matches := amountPattern.FindStringSubmatch(NormalizeText(text))
	if len(matches) < 3 {
		return 0, false
	}

	value, err := strconv.ParseFloat(matches[1]+"."+matches[2], 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// CleanPrice turns a raw price candidate into a monetary value. Numeric values
// pass through unchanged; strings are searched for the first two-decimal amount.
// The boolean is false when no price could be found, which is not an error.
func CleanPrice(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false
		}
		value, ok := ParseAmount(v)
		if !ok {
			return 0, false
		}
		return models.RoundPrice(value), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return checkNumeric(f)
	case float64:
		return checkNumeric(v)
	case float32:
		return checkNumeric(float64(v))
	case int:
		return checkNumeric(float64(v))
	case int32:
		return checkNumeric(float64(v))
	case int64:
		return checkNumeric(float64(v))
	case uint:
		return checkNumeric(float64(v))
	case uint32:
		return checkNumeric(float64(v))
	case uint64:
		return checkNumeric(float64(v))
	default:
		return 0, false
	}
}

func checkNumeric(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}
