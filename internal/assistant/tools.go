package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/cart"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/catalog"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/orders"
)

// Tool names
const (
	ToolGetCatalog            = "get_catalog"
	ToolAddToCart             = "add_to_cart"
	ToolAddIngredientsForMeal = "add_ingredients_for_meal"
	ToolRemoveFromCart        = "remove_from_cart"
	ToolUpdateQuantity        = "update_quantity"
	ToolGetCartStatus         = "get_cart_status"
	ToolPlaceOrder            = "place_order"
)

// CatalogReader is the catalog surface the dispatcher needs
type CatalogReader interface {
	Full() []catalog.Category
	FindItemByName(name string) (catalog.Item, bool)
	IngredientsForMeal(meal string) []catalog.Item
}

// CartStore is the cart surface the dispatcher needs
type CartStore interface {
	AddItem(ctx context.Context, sessionID, itemID, name string, priceCents int64, quantity int, notes string) error
	UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) error
	RemoveItem(ctx context.Context, sessionID, itemID string) error
	Get(ctx context.Context, sessionID string) (*cart.Cart, error)
}

// OrderPlacer is the order surface the dispatcher needs
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, sessionID, userID string) (*orders.Order, error)
}

// Dispatcher executes assistant tool calls against the domain services.
// Tool results are plain strings the model reads back verbatim.
type Dispatcher struct {
	catalog CatalogReader
	carts   CartStore
	orders  OrderPlacer
	tracer  trace.Tracer
}

// NewDispatcher creates a new tool dispatcher
func NewDispatcher(catalogSvc CatalogReader, cartSvc CartStore, orderSvc OrderPlacer) *Dispatcher {
	return &Dispatcher{
		catalog: catalogSvc,
		carts:   cartSvc,
		orders:  orderSvc,
		tracer:  otel.Tracer("tool-dispatcher"),
	}
}

// Definitions returns the tool surface exposed to the model
func (d *Dispatcher) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolGetCatalog,
			Description: "Get the list of available categories and items in the catalog.",
		},
		{
			Name:        ToolAddToCart,
			Description: "Add an item to the shopping cart.",
			Parameters: []ToolParam{
				{Name: "item_name", Type: "string", Description: "The name of the item to add.", Required: true},
				{Name: "quantity", Type: "integer", Description: "The quantity to add. Defaults to 1."},
				{Name: "notes", Type: "string", Description: "Any special notes or preferences."},
			},
		},
		{
			Name:        ToolAddIngredientsForMeal,
			Description: "Add multiple items needed for a recipe or meal.",
			Parameters: []ToolParam{
				{Name: "meal_name", Type: "string", Description: "The name of the meal (e.g., 'peanut butter sandwich', 'pasta').", Required: true},
			},
		},
		{
			Name:        ToolRemoveFromCart,
			Description: "Remove an item from the cart.",
			Parameters: []ToolParam{
				{Name: "item_name", Type: "string", Description: "The name of the item to remove.", Required: true},
			},
		},
		{
			Name:        ToolUpdateQuantity,
			Description: "Change the quantity of an item already in the cart. A quantity of zero removes the item.",
			Parameters: []ToolParam{
				{Name: "item_name", Type: "string", Description: "The name of the item to update.", Required: true},
				{Name: "quantity", Type: "integer", Description: "The new quantity.", Required: true},
			},
		},
		{
			Name:        ToolGetCartStatus,
			Description: "Get the current status of the shopping cart.",
		},
		{
			Name:        ToolPlaceOrder,
			Description: "Place the final order.",
		},
	}
}

// Execute runs one tool call for a session and returns the tool result text
func (d *Dispatcher) Execute(ctx context.Context, sessionID, userID string, call ToolCall) (string, error) {
	ctx, span := d.tracer.Start(ctx, "tools.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("tool.name", call.Name),
	)

	switch call.Name {
	case ToolGetCatalog:
		return d.getCatalog()
	case ToolAddToCart:
		return d.addToCart(ctx, sessionID, call.Args)
	case ToolAddIngredientsForMeal:
		return d.addIngredientsForMeal(ctx, sessionID, call.Args)
	case ToolRemoveFromCart:
		return d.removeFromCart(ctx, sessionID, call.Args)
	case ToolUpdateQuantity:
		return d.updateQuantity(ctx, sessionID, call.Args)
	case ToolGetCartStatus:
		return d.getCartStatus(ctx, sessionID)
	case ToolPlaceOrder:
		return d.placeOrder(ctx, sessionID, userID)
	default:
		span.SetAttributes(attribute.Bool("tool.unknown", true))
		return fmt.Sprintf("Unknown tool '%s'.", call.Name), nil
	}
}

func (d *Dispatcher) getCatalog() (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"categories": d.catalog.Full(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return string(payload), nil
}

func (d *Dispatcher) addToCart(ctx context.Context, sessionID string, args map[string]interface{}) (string, error) {
	itemName := argString(args, "item_name")
	quantity := argInt(args, "quantity", 1)
	notes := argString(args, "notes")

	item, ok := d.catalog.FindItemByName(itemName)
	if !ok {
		return fmt.Sprintf("Sorry, I couldn't find '%s' in the catalog.", itemName), nil
	}
	if quantity < 1 {
		quantity = 1
	}

	if err := d.carts.AddItem(ctx, sessionID, item.ID, item.Name, item.PriceCents, quantity, notes); err != nil {
		return "", fmt.Errorf("failed to add item to cart: %w", err)
	}

	return fmt.Sprintf("Added %d x %s to cart.", quantity, item.Name), nil
}

func (d *Dispatcher) addIngredientsForMeal(ctx context.Context, sessionID string, args map[string]interface{}) (string, error) {
	mealName := argString(args, "meal_name")

	items := d.catalog.IngredientsForMeal(mealName)
	if len(items) == 0 {
		return fmt.Sprintf("I'm not sure what ingredients are needed for %s. Please add items individually.", mealName), nil
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		if err := d.carts.AddItem(ctx, sessionID, item.ID, item.Name, item.PriceCents, 1, ""); err != nil {
			return "", fmt.Errorf("failed to add ingredient %s: %w", item.Name, err)
		}
		names = append(names, item.Name)
	}

	return fmt.Sprintf("Added ingredients for %s: %s.", mealName, strings.Join(names, ", ")), nil
}

func (d *Dispatcher) removeFromCart(ctx context.Context, sessionID string, args map[string]interface{}) (string, error) {
	itemName := argString(args, "item_name")

	item, ok := d.catalog.FindItemByName(itemName)
	if !ok {
		return fmt.Sprintf("Item '%s' not found in cart.", itemName), nil
	}

	if err := d.carts.RemoveItem(ctx, sessionID, item.ID); err != nil {
		return fmt.Sprintf("Item '%s' not found in cart.", itemName), nil
	}

	return fmt.Sprintf("Removed %s from cart.", item.Name), nil
}

func (d *Dispatcher) updateQuantity(ctx context.Context, sessionID string, args map[string]interface{}) (string, error) {
	itemName := argString(args, "item_name")
	quantity := argInt(args, "quantity", 0)

	item, ok := d.catalog.FindItemByName(itemName)
	if !ok {
		return fmt.Sprintf("Item '%s' not found in cart.", itemName), nil
	}

	if err := d.carts.UpdateQuantity(ctx, sessionID, item.ID, quantity); err != nil {
		return fmt.Sprintf("Item '%s' not found in cart.", itemName), nil
	}

	if quantity <= 0 {
		return fmt.Sprintf("Removed %s from cart.", item.Name), nil
	}
	return fmt.Sprintf("Updated %s to quantity %d.", item.Name, quantity), nil
}

func (d *Dispatcher) getCartStatus(ctx context.Context, sessionID string) (string, error) {
	c, err := d.carts.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load cart: %w", err)
	}
	if c.IsEmpty() {
		return "Your cart is empty.", nil
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cart: %w", err)
	}
	return string(payload), nil
}

func (d *Dispatcher) placeOrder(ctx context.Context, sessionID, userID string) (string, error) {
	order, err := d.orders.PlaceOrder(ctx, sessionID, userID)
	if err != nil {
		if err == orders.ErrEmptyCart {
			return "Your cart is empty. I cannot place an order.", nil
		}
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	return fmt.Sprintf("Order placed successfully! Order ID: %s. Total: %s", order.Reference, FormatCents(order.TotalCents)), nil
}

// FormatCents renders integer cents as a dollar amount, e.g. 1157 -> "$11.57"
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// argString reads a string argument, tolerating absent keys
func argString(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argInt reads an integer argument. JSON numbers arrive as float64.
func argInt(args map[string]interface{}, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}
