//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/cart"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/events"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/orders"
	"github.com/quickmart/shopping-assistant/orchestrator/tests/helpers"
)

// RecordingPublisher implements events.Publisher and records published keys
type RecordingPublisher struct {
	keys []string
	err  error
}

func (p *RecordingPublisher) Publish(ctx context.Context, key string, value any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// TestOrderLifecycleIntegration walks an order from placement through
// fulfillment and drains the outbox into a recording publisher
func TestOrderLifecycleIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	sessionID := testDB.CreateTestSession(t, userID)
	itemIDs := testDB.SeedTestCatalog(t)

	cartSvc := cart.NewService(testDB.Pool)
	require.NoError(t, cartSvc.AddItem(ctx, sessionID, itemIDs["Pasta"], "Pasta", 249, 2, ""))
	require.NoError(t, cartSvc.AddItem(ctx, sessionID, itemIDs["Marinara Sauce"], "Marinara Sauce", 379, 1, "extra basil"))

	orderSvc := orders.NewService(testDB.Pool)
	order, err := orderSvc.PlaceOrder(ctx, sessionID, userID)
	require.NoError(t, err)

	assert.Equal(t, orders.StatusReceived, order.Status)
	assert.Equal(t, int64(2*249+379), order.TotalCents)
	require.Len(t, order.Items, 2)

	// Placing with an empty cart fails
	_, err = orderSvc.PlaceOrder(ctx, sessionID, userID)
	assert.ErrorIs(t, err, orders.ErrEmptyCart)

	// Walk the status machine
	require.NoError(t, orderSvc.UpdateStatus(ctx, order.ID, orders.StatusConfirmed))
	require.NoError(t, orderSvc.UpdateStatus(ctx, order.ID, orders.StatusFulfilled))

	// Terminal orders cannot move again
	err = orderSvc.UpdateStatus(ctx, order.ID, orders.StatusCancelled)
	assert.Error(t, err)

	fetched, err := orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFulfilled, fetched.Status)
	assert.NotNil(t, fetched.ResolvedAt)

	list, err := orderSvc.ListOrders(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.Reference, list[0].Reference)

	// order.placed plus two order.status_changed
	assert.Equal(t, 3, testDB.GetPendingOutboxCount(t))

	publisher := &RecordingPublisher{}
	outbox := events.NewOutboxPublisher(testDB.Pool, publisher)

	published, err := outbox.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, published)
	assert.Len(t, publisher.keys, 3)
	assert.Equal(t, 0, testDB.GetPendingOutboxCount(t))

	// Nothing left to publish
	published, err = outbox.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}
