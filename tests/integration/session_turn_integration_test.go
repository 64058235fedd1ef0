//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/assistant"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/cart"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/catalog"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/orders"
	"github.com/quickmart/shopping-assistant/orchestrator/tests/helpers"
)

// ScriptedLLM implements assistant.LLMClient with canned responses, consumed
// in order
type ScriptedLLM struct {
	responses []*assistant.CompletionResponse
	calls     int
}

func (s *ScriptedLLM) Complete(ctx context.Context, req assistant.CompletionRequest) (*assistant.CompletionResponse, error) {
	if s.calls >= len(s.responses) {
		return &assistant.CompletionResponse{Text: "Anything else?"}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

// FailingLLM implements assistant.LLMClient and always fails
type FailingLLM struct {
	err error
}

func (f *FailingLLM) Complete(ctx context.Context, req assistant.CompletionRequest) (*assistant.CompletionResponse, error) {
	return nil, f.err
}

// LoopingLLM implements assistant.LLMClient and asks for the same tool on
// every round, never settling on a text reply
type LoopingLLM struct{}

func (l *LoopingLLM) Complete(ctx context.Context, req assistant.CompletionRequest) (*assistant.CompletionResponse, error) {
	return &assistant.CompletionResponse{
		ToolCalls: []assistant.ToolCall{{Name: assistant.ToolGetCartStatus}},
	}, nil
}

// FailingCartStore implements assistant.CartStore and fails every operation
type FailingCartStore struct {
	err error
}

func (f *FailingCartStore) AddItem(ctx context.Context, sessionID, itemID, name string, priceCents int64, quantity int, notes string) error {
	return f.err
}

func (f *FailingCartStore) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) error {
	return f.err
}

func (f *FailingCartStore) RemoveItem(ctx context.Context, sessionID, itemID string) error {
	return f.err
}

func (f *FailingCartStore) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	return nil, f.err
}

// TestAssistantTurnIntegration runs a full tool-calling turn against a real
// database: the scripted model adds an item to the cart and confirms.
func TestAssistantTurnIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	testDB.SeedTestCatalog(t)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	cartSvc := cart.NewService(testDB.Pool)
	orderSvc := orders.NewService(testDB.Pool)
	dispatcher := assistant.NewDispatcher(catalogSvc, cartSvc, orderSvc)

	llm := &ScriptedLLM{responses: []*assistant.CompletionResponse{
		{ToolCalls: []assistant.ToolCall{{
			Name: assistant.ToolAddToCart,
			Args: map[string]interface{}{"item_name": "peanut butter", "quantity": float64(2)},
		}}},
		{Text: "I've added 2 jars of Peanut Butter to your cart."},
	}}

	service := assistant.NewService(testDB.Pool, llm, dispatcher, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)

	// The greeting is persisted on session creation
	history, err := service.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, assistant.Greeting, history[0].Content)

	// Session creation emits an outbox event
	assert.Equal(t, 1, testDB.GetPendingOutboxCount(t))

	var events []assistant.TurnEvent
	sink := func(event assistant.TurnEvent) { events = append(events, event) }

	reply, err := service.HandleTurn(ctx, session.ID, userID, "Add two peanut butters please", sink)
	require.NoError(t, err)
	assert.Equal(t, "I've added 2 jars of Peanut Butter to your cart.", reply.Content)

	// Events stream in tool_call, tool_result, assistant_message, end order
	require.Len(t, events, 4)
	assert.Equal(t, assistant.EventToolCall, events[0].EventType)
	assert.Equal(t, assistant.ToolAddToCart, events[0].Data["name"])
	assert.Equal(t, assistant.EventToolResult, events[1].EventType)
	assert.Equal(t, "Added 2 x Peanut Butter to cart.", events[1].Data["result"])
	assert.Equal(t, assistant.EventAssistantMessage, events[2].EventType)
	assert.Equal(t, assistant.EventEnd, events[3].EventType)

	// Transcript now holds greeting, user, tool and assistant messages
	assert.Equal(t, 4, testDB.GetMessageCount(t, session.ID))

	// The cart reflects the tool call
	current, err := cartSvc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, current.Items, 1)
	assert.Equal(t, "Peanut Butter", current.Items[0].Name)
	assert.Equal(t, 2, current.Items[0].Quantity)
	assert.Equal(t, int64(998), current.TotalCents)
}

// TestAssistantPlaceOrderIntegration drives a turn that places the order and
// verifies the outbox row and cart cleanup
func TestAssistantPlaceOrderIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	itemIDs := testDB.SeedTestCatalog(t)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	cartSvc := cart.NewService(testDB.Pool)
	orderSvc := orders.NewService(testDB.Pool)
	dispatcher := assistant.NewDispatcher(catalogSvc, cartSvc, orderSvc)

	llm := &ScriptedLLM{responses: []*assistant.CompletionResponse{
		{ToolCalls: []assistant.ToolCall{{Name: assistant.ToolPlaceOrder}}},
		{Text: "Your order is placed!"},
	}}

	service := assistant.NewService(testDB.Pool, llm, dispatcher, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)

	testDB.AddCartItem(t, session.ID, itemIDs["Apple"], "Apple", 89, 3)

	reply, err := service.HandleTurn(ctx, session.ID, userID, "Place my order", nil)
	require.NoError(t, err)
	assert.Equal(t, "Your order is placed!", reply.Content)

	assert.Equal(t, 1, testDB.GetOrderCount(t))

	// session.started plus order.placed
	assert.Equal(t, 2, testDB.GetPendingOutboxCount(t))

	// Cart is cleared after the order
	current, err := cartSvc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, current.IsEmpty())

	// Placing again hits the empty-cart guard
	llm.responses = append(llm.responses,
		&assistant.CompletionResponse{ToolCalls: []assistant.ToolCall{{Name: assistant.ToolPlaceOrder}}},
		&assistant.CompletionResponse{Text: "Your cart is empty."},
	)
	reply, err = service.HandleTurn(ctx, session.ID, userID, "Order again", nil)
	require.NoError(t, err)
	assert.Equal(t, "Your cart is empty.", reply.Content)
	assert.Equal(t, 1, testDB.GetOrderCount(t))
}

// TestAssistantTurnLLMFailure verifies that a completion failure fails the
// turn and streams an error event
func TestAssistantTurnLLMFailure(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	testDB.SeedTestCatalog(t)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	dispatcher := assistant.NewDispatcher(catalogSvc, cart.NewService(testDB.Pool), orders.NewService(testDB.Pool))
	llm := &FailingLLM{err: errors.New("model unavailable")}
	service := assistant.NewService(testDB.Pool, llm, dispatcher, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)

	var events []assistant.TurnEvent
	sink := func(event assistant.TurnEvent) { events = append(events, event) }

	reply, err := service.HandleTurn(ctx, session.ID, userID, "Add apples", sink)
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.Contains(t, err.Error(), "completion failed")

	require.Len(t, events, 1)
	assert.Equal(t, assistant.EventError, events[0].EventType)

	// The user message is persisted before the model is called; no assistant
	// reply follows it
	assert.Equal(t, 2, testDB.GetMessageCount(t, session.ID))
}

// TestAssistantTurnToolLoopCap verifies that a model stuck on tool calls is
// cut off at the iteration cap instead of looping forever
func TestAssistantTurnToolLoopCap(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	testDB.SeedTestCatalog(t)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	dispatcher := assistant.NewDispatcher(catalogSvc, cart.NewService(testDB.Pool), orders.NewService(testDB.Pool))
	service := assistant.NewService(testDB.Pool, &LoopingLLM{}, dispatcher, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)

	var events []assistant.TurnEvent
	sink := func(event assistant.TurnEvent) { events = append(events, event) }

	reply, err := service.HandleTurn(ctx, session.ID, userID, "What's in my cart?", sink)
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.Contains(t, err.Error(), "tool iterations")

	// Every round streamed a tool_call and a tool_result, then the error
	require.NotEmpty(t, events)
	assert.Equal(t, assistant.EventError, events[len(events)-1].EventType)
	assert.Equal(t, assistant.EventToolCall, events[0].EventType)
	for _, event := range events[:len(events)-1] {
		assert.Contains(t, []string{assistant.EventToolCall, assistant.EventToolResult}, event.EventType)
	}
}

// TestAssistantTurnToolFailureRecovery verifies that a failing store does not
// kill the turn: the model sees an apologetic tool result and finishes
func TestAssistantTurnToolFailureRecovery(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	testDB.SeedTestCatalog(t)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	failingCarts := &FailingCartStore{err: errors.New("connection refused")}
	dispatcher := assistant.NewDispatcher(catalogSvc, failingCarts, orders.NewService(testDB.Pool))

	llm := &ScriptedLLM{responses: []*assistant.CompletionResponse{
		{ToolCalls: []assistant.ToolCall{{
			Name: assistant.ToolAddToCart,
			Args: map[string]interface{}{"item_name": "peanut butter", "quantity": float64(1)},
		}}},
		{Text: "Sorry, I couldn't update your cart just now. Please try again."},
	}}
	service := assistant.NewService(testDB.Pool, llm, dispatcher, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)

	var events []assistant.TurnEvent
	sink := func(event assistant.TurnEvent) { events = append(events, event) }

	reply, err := service.HandleTurn(ctx, session.ID, userID, "Add peanut butter", sink)
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't update your cart just now. Please try again.", reply.Content)

	require.Len(t, events, 4)
	assert.Equal(t, assistant.EventToolCall, events[0].EventType)
	assert.Equal(t, assistant.EventToolResult, events[1].EventType)
	assert.Contains(t, events[1].Data["result"], "The add_to_cart tool failed. Apologize to the shopper")
	assert.Equal(t, assistant.EventAssistantMessage, events[2].EventType)
	assert.Equal(t, assistant.EventEnd, events[3].EventType)

	// Greeting, user, tool and assistant messages are all persisted
	assert.Equal(t, 4, testDB.GetMessageCount(t, session.ID))
}

// TestSessionCloseLifecycle verifies that closing a session is recorded and
// idempotent
func TestSessionCloseLifecycle(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)

	service := assistant.NewService(testDB.Pool, nil, nil, nil)

	session, err := service.CreateSession(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)

	require.NoError(t, service.CloseSession(ctx, session.ID))

	closed, err := service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, closed.Status)

	// Closing again is a no-op
	require.NoError(t, service.CloseSession(ctx, session.ID))
}
