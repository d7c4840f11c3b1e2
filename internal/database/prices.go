package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/prothunter/internal/models"
)

// PriceRepository stores one row per successfully scraped record.
type PriceRepository struct {
	db *DB
}

func NewPriceRepository(db *DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// PreviousPrice returns the most recent stored price of a product.
func (r *PriceRepository) PreviousPrice(ctx context.Context, tx pgx.Tx, productID string) (float64, bool, error) {
	var price float64
	err := tx.QueryRow(ctx, `
		SELECT price::float8
		FROM price_history
		WHERE product_id = $1
		ORDER BY fetched_at DESC
		LIMIT 1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get previous price: %w", err)
	}
	return price, true, nil
}

func (r *PriceRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, rec models.OutputRecord) error {
	query := `
		INSERT INTO price_history (
			id, run_id, product_id, brand, name, price, weight_kg,
			protein_percent, category, image, link, fetched_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := tx.Exec(ctx, query,
		uuid.New(), runID, rec.ID, rec.Brand, rec.Name, rec.Price, rec.WeightKg,
		rec.ProteinPercent, rec.Category, rec.Image, rec.Link, rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert price for %s: %w", rec.ID, err)
	}
	return nil
}

// Latest returns the newest record of every product, ordered by product id.
func (r *PriceRepository) Latest(ctx context.Context) ([]models.OutputRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT ON (product_id)
			product_id, brand, name, price::float8, image, weight_kg::float8,
			protein_percent, category, link, fetched_at
		FROM price_history
		ORDER BY product_id, fetched_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	var records []models.OutputRecord
	for rows.Next() {
		var rec models.OutputRecord
		if err := rows.Scan(
			&rec.ID, &rec.Brand, &rec.Name, &rec.Price, &rec.Image, &rec.WeightKg,
			&rec.ProteinPercent, &rec.Category, &rec.Link, &rec.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		rec.LastUpdate = rec.FetchedAt.Local().Format(models.LastUpdateLayout)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
