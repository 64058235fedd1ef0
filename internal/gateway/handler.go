package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/assistant"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/auth"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/cart"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/catalog"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/orders"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	sessions   *assistant.Service
	catalog    *catalog.Service
	carts      *cart.Service
	orders     *orders.Service
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(sessions *assistant.Service, catalogSvc *catalog.Service, carts *cart.Service, orderSvc *orders.Service, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		sessions:   sessions,
		catalog:    catalogSvc,
		carts:      carts,
		orders:     orderSvc,
		jwtManager: jwtManager,
		pool:       pool,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string          `json:"token"`
	UserID string          `json:"user_id"`
	User   models.UserInfo `json:"user"`
}

// Login godoc
// @Summary Shopper login
// @Description Authenticate shopper and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, hashed_password, created_at, updated_at FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.HashedPassword, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		user.ID,
		user.Email,
		[]string{"shopper"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: user.ID,
		User:   user.ToUserInfo(),
	})
}

// GetCatalog godoc
// @Summary Get catalog
// @Description List all categories and items available for ordering
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /catalog [get]
func (h *Handler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.catalog.Full()})
}

// SearchCatalog godoc
// @Summary Search catalog
// @Description Find items by name substring or by exact tag
// @Tags catalog
// @Produce json
// @Param q query string false "Name substring"
// @Param tag query string false "Item tag"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /catalog/search [get]
func (h *Handler) SearchCatalog(c *gin.Context) {
	q := c.Query("q")
	tag := c.Query("tag")

	items := []catalog.Item{}
	switch {
	case tag != "":
		items = append(items, h.catalog.FindItemsByTag(tag)...)
	case q != "":
		if item, ok := h.catalog.FindItemByName(q); ok {
			items = append(items, item)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide a q or tag parameter"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SessionResponse represents a session response
type SessionResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CreateSession godoc
// @Summary Start assistant session
// @Description Open a new assistant session for the authenticated shopper
// @Tags sessions
// @Produce json
// @Success 201 {object} SessionResponse
// @Failure 401 {object} map[string]string
// @Security BearerAuth
// @Router /sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), userID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to create session","error":"%v","user_id":"%s"}`, err, userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(session))
}

// GetSession godoc
// @Summary Get session
// @Description Retrieve an assistant session owned by the authenticated shopper
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} SessionResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id} [get]
func (h *Handler) GetSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

// GetMessages godoc
// @Summary Get session transcript
// @Description Retrieve all messages of an assistant session in order
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/messages [get]
func (h *Handler) GetMessages(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	history, err := h.sessions.History(c.Request.Context(), session.ID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to load history","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	if history == nil {
		history = []models.ChatMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// PostMessageRequest represents one user turn
type PostMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// PostMessageResponse carries the assistant reply for a synchronous turn
type PostMessageResponse struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// PostMessage godoc
// @Summary Send a message
// @Description Run one assistant turn synchronously and return the reply
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body PostMessageRequest true "User message"
// @Success 200 {object} PostMessageResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/messages [post]
func (h *Handler) PostMessage(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	reply, err := h.sessions.HandleTurn(c.Request.Context(), session.ID, session.UserID, req.Text, nil)
	if err != nil {
		log.Printf(`{"level":"error","message":"Turn failed","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Assistant turn failed"})
		return
	}

	c.JSON(http.StatusOK, PostMessageResponse{
		MessageID: reply.ID,
		Content:   reply.Content,
	})
}

// GetCart godoc
// @Summary Get session cart
// @Description Retrieve the current cart of an assistant session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} cart.Cart
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/cart [get]
func (h *Handler) GetCart(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	current, err := h.carts.Get(c.Request.Context(), session.ID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to load cart","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}

	c.JSON(http.StatusOK, current)
}

// AddCartItemRequest adds one catalog item to the session cart
type AddCartItemRequest struct {
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
	Notes    string `json:"notes"`
}

// AddCartItem godoc
// @Summary Add cart item
// @Description Add a catalog item to the session cart
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body AddCartItemRequest true "Item to add"
// @Success 200 {object} cart.Cart
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/cart/items [post]
func (h *Handler) AddCartItem(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	item, found := h.catalog.ItemByID(req.ItemID)
	if !found {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Item not found", Code: models.ErrCodeItemNotFound})
		return
	}

	if err := h.carts.AddItem(c.Request.Context(), session.ID, item.ID, item.Name, item.PriceCents, req.Quantity, req.Notes); err != nil {
		log.Printf(`{"level":"error","message":"Failed to add cart item","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add item"})
		return
	}

	h.respondWithCart(c, session.ID)
}

// UpdateCartItemRequest changes the quantity of a cart line
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// UpdateCartItem godoc
// @Summary Update cart item
// @Description Set the quantity of a cart line. Zero or less removes the line.
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param itemID path string true "Item ID"
// @Param request body UpdateCartItemRequest true "New quantity"
// @Success 200 {object} cart.Cart
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/cart/items/{itemID} [patch]
func (h *Handler) UpdateCartItem(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.carts.UpdateQuantity(c.Request.Context(), session.ID, c.Param("itemID"), *req.Quantity); err != nil {
		if err == cart.ErrLineNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Item not in cart", Code: models.ErrCodeItemNotFound})
			return
		}
		log.Printf(`{"level":"error","message":"Failed to update cart item","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update item"})
		return
	}

	h.respondWithCart(c, session.ID)
}

// DeleteCartItem godoc
// @Summary Remove cart item
// @Description Remove a line from the session cart
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param itemID path string true "Item ID"
// @Success 200 {object} cart.Cart
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/cart/items/{itemID} [delete]
func (h *Handler) DeleteCartItem(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), session.ID, c.Param("itemID")); err != nil {
		if err == cart.ErrLineNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Item not in cart", Code: models.ErrCodeItemNotFound})
			return
		}
		log.Printf(`{"level":"error","message":"Failed to remove cart item","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove item"})
		return
	}

	h.respondWithCart(c, session.ID)
}

// PlaceOrder godoc
// @Summary Place order
// @Description Place an order from the session cart
// @Tags orders
// @Produce json
// @Param id path string true "Session ID"
// @Success 201 {object} orders.Order
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/orders [post]
func (h *Handler) PlaceOrder(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), session.ID, session.UserID)
	if err != nil {
		if err == orders.ErrEmptyCart {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Cart is empty", Code: models.ErrCodeEmptyCart})
			return
		}
		log.Printf(`{"level":"error","message":"Failed to place order","error":"%v","session_id":"%s"}`, err, session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to place order"})
		return
	}

	c.JSON(http.StatusCreated, order)
}

// respondWithCart loads the session cart and writes it as the response
func (h *Handler) respondWithCart(c *gin.Context, sessionID string) {
	current, err := h.carts.Get(c.Request.Context(), sessionID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to load cart","error":"%v","session_id":"%s"}`, err, sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}
	c.JSON(http.StatusOK, current)
}

// ListOrders godoc
// @Summary List orders
// @Description List orders placed by the authenticated shopper
// @Tags orders
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Security BearerAuth
// @Router /orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return
	}

	list, err := h.orders.ListOrders(c.Request.Context(), userID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list orders","error":"%v","user_id":"%s"}`, err, userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}

	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// GetOrder godoc
// @Summary Get order
// @Description Retrieve one order owned by the authenticated shopper
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} orders.Order
// @Failure 403 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if err == orders.ErrNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Order not found", Code: models.ErrCodeOrderNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	if order.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateOrderStatusRequest represents an order status change
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateOrderStatus godoc
// @Summary Update order status
// @Description Move an order through its fulfillment lifecycle. Staff only.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body UpdateOrderStatusRequest true "New status"
// @Success 200 {object} orders.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /orders/{id}/status [patch]
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status); err != nil {
		if err == orders.ErrNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Order not found", Code: models.ErrCodeOrderNotFound})
			return
		}
		log.Printf(`{"level":"warn","message":"Status transition rejected","error":"%v","order_id":"%s"}`, err, orderID)
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidTransition})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// authenticatedUserID pulls the user ID the auth middleware attached
func (h *Handler) authenticatedUserID(c *gin.Context) (string, bool) {
	userIDVal, exists := c.Get(auth.ContextUserID)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}
	userID, ok := userIDVal.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return "", false
	}
	return userID, true
}

// ownedSession loads the session from the :id param and enforces ownership
func (h *Handler) ownedSession(c *gin.Context) (*models.Session, bool) {
	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return nil, false
	}

	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == assistant.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Session not found", Code: models.ErrCodeSessionNotFound})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return nil, false
	}

	if session.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return nil, false
	}

	return session, true
}

func sessionResponse(session *models.Session) SessionResponse {
	return SessionResponse{
		ID:        session.ID,
		UserID:    session.UserID,
		Status:    session.Status,
		CreatedAt: session.CreatedAt.Format(time.RFC3339),
	}
}
