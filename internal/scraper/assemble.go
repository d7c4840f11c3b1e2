package scraper

import (
	"time"

	"github.com/maltedev/prothunter/internal/models"
)

// BuildRecord merges a cleaned price with the target's static attributes.
func BuildRecord(target models.TargetSpec, price float64, fetchedAt time.Time) models.OutputRecord {
	return models.OutputRecord{
		ID:             target.ID(),
		Brand:          target.Brand,
		Name:           target.FixedName,
		Price:          models.RoundPrice(price),
		Image:          target.LocalImageRef,
		WeightKg:       target.FixedWeight,
		ProteinPercent: target.DefaultPurity,
		Category:       target.CategoryOrDefault(),
		Link:           target.Link(),
		LastUpdate:     fetchedAt.Format(models.LastUpdateLayout),
		FetchedAt:      fetchedAt,
	}
}
