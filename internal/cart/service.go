package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrLineNotFound is returned when the session cart has no line for the item
var ErrLineNotFound = errors.New("item not in cart")

// Line represents one cart line for a session
type Line struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	Notes         string `json:"notes,omitempty"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// Cart represents the full cart state for a session
type Cart struct {
	SessionID  string `json:"session_id"`
	Items      []Line `json:"items"`
	TotalCents int64  `json:"total_cents"`
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Service persists per-session carts in PostgreSQL
type Service struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewService creates a new cart service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		tracer: otel.Tracer("cart-service"),
	}
}

// mergeNotes appends new notes to existing ones, joined with "; ".
// Empty fragments never produce a dangling separator.
func mergeNotes(existing, added string) string {
	existing = strings.Trim(strings.TrimSpace(existing), ";")
	added = strings.Trim(strings.TrimSpace(added), ";")
	existing = strings.TrimSpace(existing)
	added = strings.TrimSpace(added)
	switch {
	case existing == "":
		return added
	case added == "":
		return existing
	default:
		return existing + "; " + added
	}
}

// AddItem adds an item to the session cart. An existing line for the same item
// increments its quantity and merges notes instead of creating a second line.
func (s *Service) AddItem(ctx context.Context, sessionID, itemID, name string, priceCents int64, quantity int, notes string) error {
	ctx, span := s.tracer.Start(ctx, "cart.add_item")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("item.id", itemID),
		attribute.Int("item.quantity", quantity),
	)

	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingQty int
	var existingNotes string
	err = tx.QueryRow(ctx, `
		SELECT quantity, notes FROM cart_items
		WHERE session_id = $1 AND item_id = $2
		FOR UPDATE
	`, sessionID, itemID).Scan(&existingQty, &existingNotes)

	switch {
	case err == nil:
		_, err = tx.Exec(ctx, `
			UPDATE cart_items
			SET quantity = $1, notes = $2, updated_at = NOW()
			WHERE session_id = $3 AND item_id = $4
		`, existingQty+quantity, mergeNotes(existingNotes, notes), sessionID, itemID)
		if err != nil {
			return fmt.Errorf("failed to update cart line: %w", err)
		}
	case err == pgx.ErrNoRows:
		_, err = tx.Exec(ctx, `
			INSERT INTO cart_items (session_id, item_id, name, price_cents, quantity, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sessionID, itemID, name, priceCents, quantity, strings.TrimSpace(notes))
		if err != nil {
			return fmt.Errorf("failed to insert cart line: %w", err)
		}
	default:
		return fmt.Errorf("failed to read cart line: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateQuantity sets the quantity of a cart line. A quantity of zero or less
// removes the line entirely.
func (s *Service) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "cart.update_quantity")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("item.id", itemID),
		attribute.Int("item.quantity", quantity),
	)

	if quantity <= 0 {
		return s.RemoveItem(ctx, sessionID, itemID)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cart_items
		SET quantity = $1, updated_at = NOW()
		WHERE session_id = $2 AND item_id = $3
	`, quantity, sessionID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}

	return nil
}

// RemoveItem deletes a cart line
func (s *Service) RemoveItem(ctx context.Context, sessionID, itemID string) error {
	ctx, span := s.tracer.Start(ctx, "cart.remove_item")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("item.id", itemID),
	)

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cart_items
		WHERE session_id = $1 AND item_id = $2
	`, sessionID, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}

	return nil
}

// Clear removes every line from the session cart
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "cart.clear")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	_, err := s.pool.Exec(ctx, `
		DELETE FROM cart_items WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	return nil
}

// Get returns the full cart for a session with line subtotals and the total
func (s *Service) Get(ctx context.Context, sessionID string) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.get")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	rows, err := s.pool.Query(ctx, `
		SELECT item_id, name, price_cents, quantity, notes
		FROM cart_items
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}
	defer rows.Close()

	cart := &Cart{SessionID: sessionID}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ItemID, &line.Name, &line.PriceCents, &line.Quantity, &line.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		line.SubtotalCents = line.PriceCents * int64(line.Quantity)
		cart.TotalCents += line.SubtotalCents
		cart.Items = append(cart.Items, line)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart: %w", err)
	}

	span.SetAttributes(attribute.Int("cart.lines", len(cart.Items)))

	return cart, nil
}
