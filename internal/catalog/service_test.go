package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() ([]Category, []Recipe) {
	categories := []Category{
		{
			ID:   "cat-pantry",
			Name: "Pantry",
			Items: []Item{
				{ID: "itm-pb", CategoryID: "cat-pantry", Name: "Peanut Butter", PriceCents: 499, Tags: []string{"spread", "protein"}},
				{ID: "itm-pasta", CategoryID: "cat-pantry", Name: "Pasta", PriceCents: 249, Tags: []string{"dinner"}},
				{ID: "itm-sauce", CategoryID: "cat-pantry", Name: "Marinara Sauce", PriceCents: 379, Tags: []string{"dinner"}},
			},
		},
		{
			ID:   "cat-bakery",
			Name: "Bakery",
			Items: []Item{
				{ID: "itm-bread", CategoryID: "cat-bakery", Name: "Whole Wheat Bread", PriceCents: 329, Tags: []string{"bakery"}},
			},
		},
		{
			ID:   "cat-produce",
			Name: "Produce",
			Items: []Item{
				{ID: "itm-apple", CategoryID: "cat-produce", Name: "Apple", PriceCents: 89, Tags: []string{"fruit", "snack"}},
			},
		},
	}
	recipes := []Recipe{
		{Keyword: "peanut butter", ItemNames: []string{"Peanut Butter", "Bread"}},
		{Keyword: "pasta", ItemNames: []string{"Pasta", "Sauce"}},
	}
	return categories, recipes
}

func newTestService() *Service {
	svc := NewService(nil)
	categories, recipes := testSnapshot()
	svc.SetSnapshot(categories, recipes)
	return svc
}

func TestFindItemByName(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name       string
		query      string
		expectedID string
		found      bool
	}{
		{name: "exact_match", query: "Pasta", expectedID: "itm-pasta", found: true},
		{name: "case_insensitive", query: "peanut butter", expectedID: "itm-pb", found: true},
		{name: "substring_match", query: "bread", expectedID: "itm-bread", found: true},
		{name: "first_match_wins", query: "a", expectedID: "itm-pb", found: true},
		{name: "unknown_item", query: "caviar", found: false},
		{name: "empty_query", query: "", found: false},
		{name: "whitespace_query", query: "   ", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := svc.FindItemByName(tt.query)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expectedID, item.ID)
			}
		})
	}
}

func TestItemByID(t *testing.T) {
	svc := newTestService()

	t.Run("known_id", func(t *testing.T) {
		item, ok := svc.ItemByID("itm-bread")
		require.True(t, ok)
		assert.Equal(t, "Whole Wheat Bread", item.Name)
	})

	t.Run("unknown_id", func(t *testing.T) {
		_, ok := svc.ItemByID("itm-missing")
		assert.False(t, ok)
	})
}

func TestFindItemsByTag(t *testing.T) {
	svc := newTestService()

	t.Run("matching_tag", func(t *testing.T) {
		items := svc.FindItemsByTag("dinner")
		require.Len(t, items, 2)
		assert.Equal(t, "itm-pasta", items[0].ID)
		assert.Equal(t, "itm-sauce", items[1].ID)
	})

	t.Run("tag_match_is_exact_not_substring", func(t *testing.T) {
		assert.Empty(t, svc.FindItemsByTag("din"))
	})

	t.Run("case_insensitive", func(t *testing.T) {
		items := svc.FindItemsByTag("FRUIT")
		require.Len(t, items, 1)
		assert.Equal(t, "itm-apple", items[0].ID)
	})

	t.Run("unknown_tag", func(t *testing.T) {
		assert.Empty(t, svc.FindItemsByTag("frozen"))
	})
}

func TestIngredientsForMeal(t *testing.T) {
	svc := newTestService()

	t.Run("peanut_butter_sandwich", func(t *testing.T) {
		items := svc.IngredientsForMeal("peanut butter sandwich")
		require.Len(t, items, 2)
		assert.Equal(t, "itm-pb", items[0].ID)
		assert.Equal(t, "itm-bread", items[1].ID)
	})

	t.Run("pasta_dinner", func(t *testing.T) {
		items := svc.IngredientsForMeal("Pasta with sauce")
		require.Len(t, items, 2)
		assert.Equal(t, "itm-pasta", items[0].ID)
		assert.Equal(t, "itm-sauce", items[1].ID)
	})

	t.Run("unknown_meal", func(t *testing.T) {
		assert.Empty(t, svc.IngredientsForMeal("sushi platter"))
	})

	t.Run("duplicate_items_deduplicated", func(t *testing.T) {
		svc := NewService(nil)
		categories, _ := testSnapshot()
		svc.SetSnapshot(categories, []Recipe{
			{Keyword: "pasta", ItemNames: []string{"Pasta", "Sauce"}},
			{Keyword: "dinner", ItemNames: []string{"Pasta"}},
		})

		items := svc.IngredientsForMeal("pasta dinner")
		require.Len(t, items, 2)
	})
}

func TestFullSnapshot(t *testing.T) {
	t.Run("empty_service", func(t *testing.T) {
		svc := NewService(nil)
		assert.Empty(t, svc.Full())
	})

	t.Run("populated_service", func(t *testing.T) {
		svc := newTestService()
		categories := svc.Full()
		require.Len(t, categories, 3)
		assert.Equal(t, "Pantry", categories[0].Name)
		assert.Len(t, categories[0].Items, 3)
	})
}
