package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
)

// Order statuses
const (
	StatusReceived  = "received"
	StatusConfirmed = "confirmed"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
)

// ErrEmptyCart is returned when placing an order from a cart with no lines
var ErrEmptyCart = errors.New("cart is empty")

// ErrNotFound is returned when an order does not exist
var ErrNotFound = errors.New("order not found")

// Order represents a placed order
type Order struct {
	ID         uuid.UUID  `json:"id"`
	Reference  string     `json:"reference"`
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	Status     string     `json:"status"`
	TotalCents int64      `json:"total_cents"`
	Items      []Item     `json:"items,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Item represents an immutable order line snapshot
type Item struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	Notes         string `json:"notes,omitempty"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// Service handles order placement and lifecycle
type Service struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewService creates a new orders service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		tracer: otel.Tracer("orders-service"),
	}
}

// newReference builds a human-facing order reference from a wall-clock instant
func newReference(now time.Time) string {
	return fmt.Sprintf("ORD-%d", now.Unix())
}

// PlaceOrder snapshots the session cart into a new order, clears the cart and
// writes an order.placed outbox event, all in one transaction
func (s *Service) PlaceOrder(ctx context.Context, sessionID, userID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.place_order")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("user_id", userID),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the cart lines so a concurrent turn cannot mutate them mid-checkout
	rows, err := tx.Query(ctx, `
		SELECT item_id, name, price_cents, quantity, notes
		FROM cart_items
		WHERE session_id = $1
		ORDER BY created_at
		FOR UPDATE
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	var items []Item
	var total int64
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.Name, &it.PriceCents, &it.Quantity, &it.Notes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		it.SubtotalCents = it.PriceCents * int64(it.Quantity)
		total += it.SubtotalCents
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart: %w", err)
	}

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now()
	order := &Order{
		Reference:  newReference(now),
		SessionID:  sessionID,
		UserID:     userID,
		Status:     StatusReceived,
		TotalCents: total,
		Items:      items,
		CreatedAt:  now,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (reference, session_id, user_id, status, total_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, order.Reference, sessionID, userID, order.Status, total).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, item_id, name, price_cents, quantity, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, it.ItemID, it.Name, it.PriceCents, it.Quantity, it.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot order line %s: %w", it.ItemID, err)
		}
	}

	if err = s.insertOutboxEvent(ctx, tx, order.ID.String(), models.EventTypeOrderPlaced, map[string]interface{}{
		"order_id":    order.ID.String(),
		"reference":   order.Reference,
		"session_id":  sessionID,
		"user_id":     userID,
		"status":      order.Status,
		"total_cents": total,
		"line_count":  len(items),
	}); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("order.reference", order.Reference),
		attribute.Int64("order.total_cents", total),
	)

	return order, nil
}

// GetOrder retrieves an order with its line snapshots
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.get_order")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID.String()))

	var order Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, reference, session_id, user_id, status, total_cents, created_at, updated_at, resolved_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(
		&order.ID, &order.Reference, &order.SessionID, &order.UserID,
		&order.Status, &order.TotalCents, &order.CreatedAt, &order.UpdatedAt, &order.ResolvedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT item_id, name, price_cents, quantity, notes
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.Name, &it.PriceCents, &it.Quantity, &it.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		it.SubtotalCents = it.PriceCents * int64(it.Quantity)
		order.Items = append(order.Items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}

	return &order, nil
}

// ListOrders returns a user's orders, newest first, without line snapshots
func (s *Service) ListOrders(ctx context.Context, userID string) ([]*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.list_orders")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	rows, err := s.pool.Query(ctx, `
		SELECT id, reference, session_id, user_id, status, total_cents, created_at, updated_at, resolved_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var list []*Order
	for rows.Next() {
		var order Order
		err := rows.Scan(
			&order.ID, &order.Reference, &order.SessionID, &order.UserID,
			&order.Status, &order.TotalCents, &order.CreatedAt, &order.UpdatedAt, &order.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		list = append(list, &order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return list, nil
}

// UpdateStatus transitions an order to a new status after validating the
// transition, emitting an order.status_changed outbox event
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) error {
	ctx, span := s.tracer.Start(ctx, "orders.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.new_status", newStatus),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row so concurrent transitions serialize
	var currentStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&currentStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if err = validateTransition(currentStatus, newStatus); err != nil {
		return err
	}

	resolved := newStatus == StatusFulfilled || newStatus == StatusCancelled
	if resolved {
		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET status = $1, updated_at = NOW(), resolved_at = NOW()
			WHERE id = $2
		`, newStatus, orderID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET status = $1, updated_at = NOW()
			WHERE id = $2
		`, newStatus, orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if err = s.insertOutboxEvent(ctx, tx, orderID.String(), models.EventTypeOrderStatusChanged, map[string]interface{}{
		"order_id":    orderID.String(),
		"from_status": currentStatus,
		"to_status":   newStatus,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// insertOutboxEvent writes a pending outbox row inside the caller's transaction
func (s *Service) insertOutboxEvent(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
	`, aggregateID, eventType, payloadJSON, models.OutboxEventStatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// validateTransition validates if a status transition is allowed
func validateTransition(currentStatus, newStatus string) error {
	validTransitions := map[string][]string{
		StatusReceived:  {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusFulfilled, StatusCancelled},
		StatusFulfilled: {}, // Terminal state
		StatusCancelled: {}, // Terminal state
	}

	allowedNext, exists := validTransitions[currentStatus]
	if !exists {
		return fmt.Errorf("invalid current status: %s", currentStatus)
	}

	for _, allowed := range allowedNext {
		if allowed == newStatus {
			return nil
		}
	}

	return fmt.Errorf("invalid status transition from %s to %s", currentStatus, newStatus)
}
