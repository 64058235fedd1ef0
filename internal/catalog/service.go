package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Category represents a catalog category with its items
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Items    []Item `json:"items"`
}

// Item represents a purchasable catalog item. Prices are integer cents.
type Item struct {
	ID         string   `json:"id"`
	CategoryID string   `json:"category_id"`
	Name       string   `json:"name"`
	PriceCents int64    `json:"price_cents"`
	Tags       []string `json:"tags"`
}

// Recipe maps a meal keyword to the item names needed for it
type Recipe struct {
	Keyword   string   `json:"keyword"`
	ItemNames []string `json:"item_names"`
}

// Service serves catalog lookups from an in-memory snapshot backed by PostgreSQL.
// The assistant queries the catalog on nearly every turn, so lookups never hit
// the database; Reload swaps the snapshot under a write lock.
type Service struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer

	mu         sync.RWMutex
	categories []Category
	recipes    []Recipe
}

// NewService creates a new catalog service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		tracer: otel.Tracer("catalog-service"),
	}
}

// Reload loads categories, items and recipes from the database into the snapshot
func (s *Service) Reload(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "catalog.reload")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, position
		FROM categories
		ORDER BY position, name
	`)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to query categories: %w", err)
	}

	var categories []Category
	index := make(map[string]int)
	for rows.Next() {
		var cat Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Position); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan category: %w", err)
		}
		index[cat.ID] = len(categories)
		categories = append(categories, cat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating categories: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, category_id, name, price_cents, tags
		FROM items
		ORDER BY position, name
	`)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to query items: %w", err)
	}

	itemCount := 0
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.CategoryID, &item.Name, &item.PriceCents, &item.Tags); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan item: %w", err)
		}
		if i, ok := index[item.CategoryID]; ok {
			categories[i].Items = append(categories[i].Items, item)
			itemCount++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating items: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT keyword, item_names
		FROM recipes
		ORDER BY keyword
	`)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to query recipes: %w", err)
	}

	var recipes []Recipe
	for rows.Next() {
		var r Recipe
		if err := rows.Scan(&r.Keyword, &r.ItemNames); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating recipes: %w", err)
	}

	s.mu.Lock()
	s.categories = categories
	s.recipes = recipes
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("catalog.categories", len(categories)),
		attribute.Int("catalog.items", itemCount),
		attribute.Int("catalog.recipes", len(recipes)),
	)

	return nil
}

// SetSnapshot replaces the in-memory snapshot directly, for testing
func (s *Service) SetSnapshot(categories []Category, recipes []Recipe) {
	s.mu.Lock()
	s.categories = categories
	s.recipes = recipes
	s.mu.Unlock()
}

// Full returns all categories with their items
func (s *Service) Full() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories
}

// ItemByID returns the item with the given id
func (s *Service) ItemByID(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cat := range s.categories {
		for _, item := range cat.Items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return Item{}, false
}

// FindItemByName returns the first item whose name contains the given name,
// case-insensitively, in category/item order
func (s *Service) FindItemByName(name string) (Item, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Item{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cat := range s.categories {
		for _, item := range cat.Items {
			if strings.Contains(strings.ToLower(item.Name), needle) {
				return item, true
			}
		}
	}
	return Item{}, false
}

// FindItemsByTag returns all items carrying the given tag, case-insensitively
func (s *Service) FindItemsByTag(tag string) []Item {
	needle := strings.ToLower(strings.TrimSpace(tag))
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []Item
	for _, cat := range s.categories {
		for _, item := range cat.Items {
			for _, t := range item.Tags {
				if strings.ToLower(t) == needle {
					items = append(items, item)
					break
				}
			}
		}
	}
	return items
}

// IngredientsForMeal resolves the items needed for a meal. A recipe applies
// when its keyword occurs in the meal name, case-insensitively. Item names
// that no longer resolve in the catalog are skipped.
func (s *Service) IngredientsForMeal(meal string) []Item {
	needle := strings.ToLower(strings.TrimSpace(meal))
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	recipes := s.recipes
	s.mu.RUnlock()

	var items []Item
	seen := make(map[string]bool)
	for _, recipe := range recipes {
		if !strings.Contains(needle, strings.ToLower(recipe.Keyword)) {
			continue
		}
		for _, name := range recipe.ItemNames {
			item, ok := s.FindItemByName(name)
			if !ok || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			items = append(items, item)
		}
	}
	return items
}
