package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo interface for outbox operations (for testing)
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay moves events from the outbox table to Redis streams
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	source    string
}

// RelayConfig contains configuration for the relay
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source is reported in the metadata of every published event.
	Source string
}

// NewRelay creates a new relay instance
func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "prothunter"
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		source:    config.Source,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

// processEvents relays one batch. A failed event is rescheduled through
// MarkFailed and does not stop the rest of the batch.
func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var relayed, failed int
	for _, event := range events {
		if err := r.processEvent(ctx, event); err != nil {
			failed++
			r.logger.Error("failed to relay event",
				"event_id", event.ID,
				"product_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		relayed++
	}

	r.logger.Debug("outbox batch relayed", "relayed", relayed, "failed", failed)
	return nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	if err := r.publishToRedis(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	return r.outbox.MarkProcessed(ctx, event.ID)
}

// priceFields are the payload values copied onto the stream entry so
// consumers can filter without decoding data.
type priceFields struct {
	RunID               string   `json:"run_id"`
	Price               *float64 `json:"price"`
	PricePer100gProtein *float64 `json:"price_per_100g_protein"`
	Currency            string   `json:"currency"`
}

func (r *Relay) publishToRedis(ctx context.Context, event *OutboxEvent) error {
	values, err := r.streamValues(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamValues builds the stream entry: the event envelope as JSON under
// "data" plus flat product and price fields.
func (r *Relay) streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	var fields priceFields
	if err := json.Unmarshal(event.Payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]interface{}{
			"source":        r.source,
			"outbox_id":     event.ID.String(),
			"retry_count":   event.RetryCount,
			"target_stream": event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	values := map[string]interface{}{
		"data":           string(envelope),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		"original_id":    event.ID.String(),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
		"product_id":     event.AggregateID,
	}
	if fields.RunID != "" {
		values["run_id"] = fields.RunID
	}
	if fields.Currency != "" {
		values["currency"] = fields.Currency
	}
	if fields.Price != nil {
		values["price"] = strconv.FormatFloat(*fields.Price, 'f', 2, 64)
	}
	if fields.PricePer100gProtein != nil {
		values["price_per_100g_protein"] = strconv.FormatFloat(*fields.PricePer100gProtein, 'f', 2, 64)
	}
	return values, nil
}
