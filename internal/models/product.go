package models

import (
	"math"
	"strings"
	"time"
)

// DefaultCategory is used when a target does not declare one.
const DefaultCategory = "protein"

// LastUpdateLayout is the timestamp layout of OutputRecord.LastUpdate (DD/MM/YYYY HH:MM).
const LastUpdateLayout = "02/01/2006 15:04"

// TargetSpec describes one product page to fetch. It is read-only once loaded.
type TargetSpec struct {
	Brand          string   `json:"brand" yaml:"brand"`
	URL            string   `json:"url" yaml:"url"`
	PriceSelectors []string `json:"price_selectors" yaml:"price_selectors"`
	FixedName      string   `json:"fixed_name" yaml:"fixed_name"`
	DefaultPurity  int      `json:"default_purity" yaml:"default_purity"`
	FixedWeight    float64  `json:"fixed_weight" yaml:"fixed_weight"`
	LocalImageRef  string   `json:"local_image_ref" yaml:"local_image_ref"`
	AffiliateLink  string   `json:"affiliate_link,omitempty" yaml:"affiliate_link,omitempty"`
	Category       string   `json:"category,omitempty" yaml:"category,omitempty"`

	// PriceMin and PriceMax bound the brute-force text scan (exclusive).
	// Zero means "use the configured default".
	PriceMin float64 `json:"price_min,omitempty" yaml:"price_min,omitempty"`
	PriceMax float64 `json:"price_max,omitempty" yaml:"price_max,omitempty"`
}

// ID derives the record identifier from the brand: lower-cased, spaces replaced with underscores.
func (t TargetSpec) ID() string {
	return strings.ReplaceAll(strings.ToLower(t.Brand), " ", "_")
}

// Link returns the outbound link for the record.
func (t TargetSpec) Link() string {
	if t.AffiliateLink != "" {
		return t.AffiliateLink
	}
	return t.URL
}

func (t TargetSpec) CategoryOrDefault() string {
	if t.Category != "" {
		return t.Category
	}
	return DefaultCategory
}

// PriceBounds returns the plausible price range for the target, falling back to the given defaults.
func (t TargetSpec) PriceBounds(defaultMin, defaultMax float64) (float64, float64) {
	min, max := defaultMin, defaultMax
	if t.PriceMin > 0 {
		min = t.PriceMin
	}
	if t.PriceMax > 0 {
		max = t.PriceMax
	}
	return min, max
}

// Validate returns a list of problems with the target, empty when valid.
func (t TargetSpec) Validate() []string {
	var errors []string

	if strings.TrimSpace(t.Brand) == "" {
		errors = append(errors, "brand is required")
	}

	if strings.TrimSpace(t.URL) == "" {
		errors = append(errors, "url is required")
	}

	if t.DefaultPurity < 0 || t.DefaultPurity > 100 {
		errors = append(errors, "default_purity must be between 0 and 100")
	}

	if t.FixedWeight <= 0 {
		errors = append(errors, "fixed_weight must be positive")
	}

	if t.PriceMin > 0 && t.PriceMax > 0 && t.PriceMin >= t.PriceMax {
		errors = append(errors, "price_min must be lower than price_max")
	}

	return errors
}

// OutputRecord is the final per-target result handed to the persistence sinks.
type OutputRecord struct {
	ID             string    `json:"id"`
	Brand          string    `json:"brand"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	Image          string    `json:"image"`
	WeightKg       float64   `json:"weight_kg"`
	ProteinPercent int       `json:"protein_percent"`
	Category       string    `json:"category"`
	Link           string    `json:"link"`
	LastUpdate     string    `json:"last_update"`
	FetchedAt      time.Time `json:"-"`
}

// PricePerKg is the price normalized by the declared product weight.
func (r OutputRecord) PricePerKg() float64 {
	if r.WeightKg <= 0 {
		return 0
	}
	return RoundPrice(r.Price / r.WeightKg)
}

// PricePer100gProtein is the cost of 100 g of pure protein, the figure
// products are compared by. Zero when weight or purity is unknown.
func (r OutputRecord) PricePer100gProtein() float64 {
	grams := r.WeightKg * 1000 * float64(r.ProteinPercent) / 100
	if grams <= 0 {
		return 0
	}
	return RoundPrice(r.Price / grams * 100)
}

const (
	BadgeDeal    = "CHOLLO"
	BadgeQuality = "CALIDAD"

	dealThreshold    = 3.5 // euros per 100 g of protein, exclusive
	qualityMinPurity = 85  // exclusive
)

// Badge labels a cheap protein source as a deal; otherwise a high purity
// product as quality. Empty when neither applies.
func (r OutputRecord) Badge() string {
	if cost := r.PricePer100gProtein(); cost > 0 && cost < dealThreshold {
		return BadgeDeal
	}
	if r.ProteinPercent > qualityMinPurity {
		return BadgeQuality
	}
	return ""
}

// RoundPrice rounds to two-decimal monetary precision.
func RoundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
