package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	maxPublishAttempts  = 5
)

// OutboxPublisher drains pending outbox rows and publishes them to the broker.
// Rows are claimed with FOR UPDATE SKIP LOCKED so multiple replicas can run
// the publisher concurrently without double-publishing within a poll.
type OutboxPublisher struct {
	pool         *pgxpool.Pool
	publisher    Publisher
	tracer       trace.Tracer
	pollInterval time.Duration
	batchSize    int
}

// NewOutboxPublisher creates a new outbox publisher worker
func NewOutboxPublisher(pool *pgxpool.Pool, publisher Publisher) *OutboxPublisher {
	return &OutboxPublisher{
		pool:         pool,
		publisher:    publisher,
		tracer:       otel.Tracer("outbox-publisher"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
}

// Start polls the outbox until the context is cancelled
func (o *OutboxPublisher) Start(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	log.Printf(`{"level":"info","message":"Outbox publisher started","poll_interval":"%s"}`, o.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf(`{"level":"info","message":"Outbox publisher stopped"}`)
			return
		case <-ticker.C:
			if published, err := o.PublishPending(ctx); err != nil {
				log.Printf(`{"level":"error","message":"Outbox poll failed","error":"%v"}`, err)
			} else if published > 0 {
				log.Printf(`{"level":"info","message":"Outbox events published","count":%d}`, published)
			}
		}
	}
}

// PublishPending claims one batch of pending events and publishes them,
// returning the number of events published successfully
func (o *OutboxPublisher) PublishPending(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "outbox.publish_pending")
	defer span.End()

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, retry_count
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, models.OutboxEventStatusPending, o.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox events: %w", err)
	}

	type claimed struct {
		id          string
		aggregateID string
		eventType   string
		payload     []byte
		retryCount  int
	}

	var batch []claimed
	for rows.Next() {
		var ev claimed
		if err := rows.Scan(&ev.id, &ev.aggregateID, &ev.eventType, &ev.payload, &ev.retryCount); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		batch = append(batch, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating outbox events: %w", err)
	}

	published := 0
	for _, ev := range batch {
		envelope := map[string]interface{}{
			"event_id":     ev.id,
			"event_type":   ev.eventType,
			"aggregate_id": ev.aggregateID,
			"payload":      json.RawMessage(ev.payload),
		}

		pubErr := o.publisher.Publish(ctx, ev.aggregateID, envelope)
		if pubErr == nil {
			_, err = tx.Exec(ctx, `
				UPDATE outbox_events
				SET status = $1, published_at = NOW()
				WHERE id = $2
			`, models.OutboxEventStatusPublished, ev.id)
			if err != nil {
				return published, fmt.Errorf("failed to mark event published: %w", err)
			}
			published++
			continue
		}

		retries := ev.retryCount + 1
		status := models.OutboxEventStatusPending
		if retries >= maxPublishAttempts {
			status = models.OutboxEventStatusFailed
		}
		errMsg := pubErr.Error()
		_, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET status = $1, retry_count = $2, last_error = $3
			WHERE id = $4
		`, status, retries, errMsg, ev.id)
		if err != nil {
			return published, fmt.Errorf("failed to record publish failure: %w", err)
		}
		log.Printf(`{"level":"warn","message":"Outbox publish failed","event_id":"%s","event_type":"%s","retry_count":%d,"error":"%v"}`,
			ev.id, ev.eventType, retries, pubErr)
	}

	if err = tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	span.SetAttributes(
		attribute.Int("outbox.claimed", len(batch)),
		attribute.Int("outbox.published", published),
	)

	return published, nil
}
