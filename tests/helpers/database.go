package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context) (*pgxpool.Pool, error) {
	databaseURL := buildDatabaseURL()

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// buildDatabaseURL constructs the database URL from environment variables
func buildDatabaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "quickmart"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		user, password, host, port, dbname)
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
}

// NewTestDatabase creates a new test database instance
func NewTestDatabase(t *testing.T) *TestDatabase {
	ctx := context.Background()

	pool, err := GetTestDatabasePool(ctx)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return &TestDatabase{
		Pool: pool,
		ctx:  ctx,
	}
}

// Close closes the database connection
func (db *TestDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CleanupTables removes test data from all tables, child tables first
func (db *TestDatabase) CleanupTables(t *testing.T) {
	tables := []string{
		"outbox_events",
		"order_items",
		"orders",
		"cart_items",
		"messages",
		"sessions",
		"recipes",
		"items",
		"categories",
		"users",
	}

	for _, table := range tables {
		_, err := db.Pool.Exec(db.ctx, fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			t.Logf("Warning: Failed to cleanup table %s: %v", table, err)
		}
	}
}

// CreateTestUser creates a test user with a bcrypt-hashed password and
// returns the user ID
func (db *TestDatabase) CreateTestUser(t *testing.T, email, password string) string {
	hashed, err := db.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	var userID string
	err = db.Pool.QueryRow(db.ctx, `
		INSERT INTO users (name, email, hashed_password, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id
	`, "Test Shopper", email, hashed).Scan(&userID)

	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return userID
}

// CreateTestSession creates an assistant session for a user and returns the
// session ID
func (db *TestDatabase) CreateTestSession(t *testing.T, userID string) string {
	var sessionID string
	err := db.Pool.QueryRow(db.ctx, `
		INSERT INTO sessions (user_id, status)
		VALUES ($1, 'active')
		RETURNING id
	`, userID).Scan(&sessionID)

	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	return sessionID
}

// SeedTestCatalog inserts the default catalog fixture and returns a map of
// item name to item ID
func (db *TestDatabase) SeedTestCatalog(t *testing.T) map[string]string {
	itemIDs := make(map[string]string)

	for pos, cat := range DefaultTestCatalog.Categories {
		categoryID := uuid.New().String()
		_, err := db.Pool.Exec(db.ctx, `
			INSERT INTO categories (id, name, position)
			VALUES ($1, $2, $3)
		`, categoryID, cat.Name, pos)
		if err != nil {
			t.Fatalf("Failed to seed category %s: %v", cat.Name, err)
		}

		for itemPos, item := range cat.Items {
			itemID := uuid.New().String()
			_, err := db.Pool.Exec(db.ctx, `
				INSERT INTO items (id, category_id, name, price_cents, tags, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, itemID, categoryID, item.Name, item.PriceCents, item.Tags, itemPos)
			if err != nil {
				t.Fatalf("Failed to seed item %s: %v", item.Name, err)
			}
			itemIDs[item.Name] = itemID
		}
	}

	for _, recipe := range DefaultTestCatalog.Recipes {
		_, err := db.Pool.Exec(db.ctx, `
			INSERT INTO recipes (keyword, item_names)
			VALUES ($1, $2)
		`, recipe.Keyword, recipe.ItemNames)
		if err != nil {
			t.Fatalf("Failed to seed recipe %s: %v", recipe.Keyword, err)
		}
	}

	return itemIDs
}

// AddCartItem inserts a cart line directly, bypassing the cart service
func (db *TestDatabase) AddCartItem(t *testing.T, sessionID, itemID, name string, priceCents int64, quantity int) {
	_, err := db.Pool.Exec(db.ctx, `
		INSERT INTO cart_items (session_id, item_id, name, price_cents, quantity, notes)
		VALUES ($1, $2, $3, $4, $5, '')
	`, sessionID, itemID, name, priceCents, quantity)
	if err != nil {
		t.Fatalf("Failed to add cart item: %v", err)
	}
}

// GetOrderCount returns the number of orders in the database
func (db *TestDatabase) GetOrderCount(t *testing.T) int {
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM orders").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get order count: %v", err)
	}
	return count
}

// GetPendingOutboxCount returns the number of pending outbox events
func (db *TestDatabase) GetPendingOutboxCount(t *testing.T) int {
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM outbox_events WHERE status = 'PENDING'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get outbox count: %v", err)
	}
	return count
}

// GetMessageCount returns the number of messages in a session
func (db *TestDatabase) GetMessageCount(t *testing.T, sessionID string) int {
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM messages WHERE session_id = $1", sessionID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get message count: %v", err)
	}
	return count
}

// HashPassword hashes a password using bcrypt for testing
func (db *TestDatabase) HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}
