package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/prothunter/internal/database"
	"github.com/maltedev/prothunter/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypePriceUpdated is published for every record of a run
	EventTypePriceUpdated EventType = "PRICE_UPDATED"

	Currency = "EUR"
)

// PriceUpdatedPayload represents the payload for PRICE_UPDATED event
type PriceUpdatedPayload struct {
	EventID             string    `json:"event_id"`
	EventType           string    `json:"event_type"`
	Timestamp           time.Time `json:"timestamp"`
	RunID               string    `json:"run_id"`
	ProductID           string    `json:"product_id"`
	Brand               string    `json:"brand"`
	Name                string    `json:"name"`
	Price               float64   `json:"price"`
	PreviousPrice       *float64  `json:"previous_price,omitempty"`
	PricePerKg          float64   `json:"price_per_kg"`
	PricePer100gProtein float64   `json:"price_per_100g_protein"`
	Currency            string    `json:"currency"`
	Link                string    `json:"link"`
	FetchedAt           time.Time `json:"fetched_at"`
}

// Changed reports whether the price differs from the previously stored one.
// A first observation counts as a change.
func (p *PriceUpdatedPayload) Changed() bool {
	return p.PreviousPrice == nil || *p.PreviousPrice != p.Price
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// PriceStore is the price history table.
type PriceStore interface {
	PreviousPrice(ctx context.Context, tx pgx.Tx, productID string) (float64, bool, error)
	InsertWithTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, rec models.OutputRecord) error
}

// OutboxWriter appends events to the transactional outbox.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores a run's records and their events in one transaction.
type Publisher struct {
	tx     Transactor
	prices PriceStore
	outbox OutboxWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(tx Transactor, prices PriceStore, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		tx:     tx,
		prices: prices,
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

// RecordRun persists the records of runID to the price history and enqueues
// one PRICE_UPDATED event per record. Either everything is stored or nothing.
func (p *Publisher) RecordRun(ctx context.Context, runID uuid.UUID, records []models.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	changed := 0
	err := p.tx.Transaction(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			payload, err := p.buildPayload(ctx, tx, runID, rec)
			if err != nil {
				return err
			}

			if err := p.prices.InsertWithTx(ctx, tx, runID, rec); err != nil {
				return err
			}

			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}

			event := &database.OutboxEvent{
				AggregateType: "product",
				AggregateID:   rec.ID,
				EventType:     string(EventTypePriceUpdated),
				Payload:       data,
			}
			if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return fmt.Errorf("failed to insert outbox event: %w", err)
			}

			if payload.Changed() {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}

	p.logger.Info("run recorded",
		"run_id", runID,
		"records", len(records),
		"changed", changed)

	return nil
}

func (p *Publisher) buildPayload(ctx context.Context, tx pgx.Tx, runID uuid.UUID, rec models.OutputRecord) (*PriceUpdatedPayload, error) {
	payload := &PriceUpdatedPayload{
		EventID:             uuid.New().String(),
		EventType:           string(EventTypePriceUpdated),
		Timestamp:           p.now(),
		RunID:               runID.String(),
		ProductID:           rec.ID,
		Brand:               rec.Brand,
		Name:                rec.Name,
		Price:               rec.Price,
		PricePerKg:          rec.PricePerKg(),
		PricePer100gProtein: rec.PricePer100gProtein(),
		Currency:            Currency,
		Link:                rec.Link,
		FetchedAt:           rec.FetchedAt,
	}

	previous, ok, err := p.prices.PreviousPrice(ctx, tx, rec.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		payload.PreviousPrice = &previous
	}

	return payload, nil
}
