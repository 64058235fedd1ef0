//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/assistant"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/auth"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/cart"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/catalog"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/gateway"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/orders"
	"github.com/quickmart/shopping-assistant/orchestrator/tests/helpers"
)

// TestCartRestFlow drives the cart and order REST endpoints end to end
// against a real database
func TestCartRestFlow(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-for-cart-rest-integration")

	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()
	testDB.CleanupTables(t)
	defer testDB.CleanupTables(t)

	ctx := context.Background()
	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	sessionID := testDB.CreateTestSession(t, userID)
	itemIDs := testDB.SeedTestCatalog(t)

	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)
	token, err := jwtManager.GenerateToken(ctx, userID, helpers.DefaultTestUser.Email, []string{"shopper"}, time.Hour)
	require.NoError(t, err)

	catalogSvc := catalog.NewService(testDB.Pool)
	require.NoError(t, catalogSvc.Reload(ctx))

	sessionSvc := assistant.NewService(testDB.Pool, nil, nil, nil)
	handler := gateway.NewHandler(sessionSvc, catalogSvc, cart.NewService(testDB.Pool), orders.NewService(testDB.Pool), jwtManager, testDB.Pool)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	api.GET("/catalog/search", handler.SearchCatalog)

	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager))
	protected.GET("/sessions/:id/cart", handler.GetCart)
	protected.POST("/sessions/:id/cart/items", handler.AddCartItem)
	protected.PATCH("/sessions/:id/cart/items/:itemID", handler.UpdateCartItem)
	protected.DELETE("/sessions/:id/cart/items/:itemID", handler.DeleteCartItem)
	protected.POST("/sessions/:id/orders", handler.PlaceOrder)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	appleID := itemIDs["Apple"]
	cartPath := fmt.Sprintf("/api/sessions/%s/cart", sessionID)
	itemsPath := cartPath + "/items"

	t.Run("add item", func(t *testing.T) {
		w := do(http.MethodPost, itemsPath, map[string]any{"item_id": appleID, "quantity": 2, "notes": "ripe"})
		require.Equal(t, http.StatusOK, w.Code)

		var current cart.Cart
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
		require.Len(t, current.Items, 1)
		assert.Equal(t, "Apple", current.Items[0].Name)
		assert.Equal(t, int64(178), current.TotalCents)
	})

	t.Run("unknown item is rejected", func(t *testing.T) {
		w := do(http.MethodPost, itemsPath, map[string]any{"item_id": "no-such-item", "quantity": 1})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "ITEM_NOT_FOUND")
	})

	t.Run("update quantity", func(t *testing.T) {
		w := do(http.MethodPatch, itemsPath+"/"+appleID, map[string]any{"quantity": 5})
		require.Equal(t, http.StatusOK, w.Code)

		var current cart.Cart
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
		assert.Equal(t, int64(445), current.TotalCents)
	})

	t.Run("zero quantity removes the line", func(t *testing.T) {
		w := do(http.MethodPatch, itemsPath+"/"+appleID, map[string]any{"quantity": 0})
		require.Equal(t, http.StatusOK, w.Code)

		var current cart.Cart
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
		assert.True(t, current.IsEmpty())
	})

	t.Run("delete missing line returns 404", func(t *testing.T) {
		w := do(http.MethodDelete, itemsPath+"/"+appleID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("order placement clears the cart", func(t *testing.T) {
		w := do(http.MethodPost, itemsPath, map[string]any{"item_id": appleID, "quantity": 3})
		require.Equal(t, http.StatusOK, w.Code)

		w = do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/orders", sessionID), nil)
		require.Equal(t, http.StatusCreated, w.Code)

		var order orders.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
		assert.Equal(t, orders.StatusReceived, order.Status)
		assert.Equal(t, int64(267), order.TotalCents)

		w = do(http.MethodGet, cartPath, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var current cart.Cart
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
		assert.True(t, current.IsEmpty())
	})

	t.Run("empty cart order is rejected", func(t *testing.T) {
		w := do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/orders", sessionID), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "EMPTY_CART")
	})

	t.Run("catalog search", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/catalog/search?q=apple", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Apple")
	})
}
