package helpers

import (
	"encoding/json"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TestCatalog is a catalog fixture with categories and recipes
type TestCatalog struct {
	Categories []TestCategory
	Recipes    []TestRecipe
}

// TestCategory is one catalog category fixture
type TestCategory struct {
	Name  string
	Items []TestItem
}

// TestItem is one catalog item fixture. Prices are integer cents.
type TestItem struct {
	Name       string
	PriceCents int64
	Tags       []string
}

// TestRecipe maps a meal keyword to item names
type TestRecipe struct {
	Keyword   string
	ItemNames []string
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Email:    "shopper@example.com",
		Password: "test-password-123",
	}

	DefaultTestCatalog = TestCatalog{
		Categories: []TestCategory{
			{
				Name: "Pantry",
				Items: []TestItem{
					{Name: "Peanut Butter", PriceCents: 499, Tags: []string{"spread", "protein"}},
					{Name: "Pasta", PriceCents: 249, Tags: []string{"dinner", "carbs"}},
					{Name: "Marinara Sauce", PriceCents: 379, Tags: []string{"dinner", "sauce"}},
				},
			},
			{
				Name: "Bakery",
				Items: []TestItem{
					{Name: "Whole Wheat Bread", PriceCents: 329, Tags: []string{"bread"}},
				},
			},
			{
				Name: "Produce",
				Items: []TestItem{
					{Name: "Apple", PriceCents: 89, Tags: []string{"fruit", "snack"}},
				},
			},
		},
		Recipes: []TestRecipe{
			{Keyword: "peanut butter", ItemNames: []string{"Peanut Butter", "Whole Wheat Bread"}},
			{Keyword: "pasta", ItemNames: []string{"Pasta", "Marinara Sauce"}},
		},
	}
)

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// FromJSON parses JSON string to map
func FromJSON(jsonStr string) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal([]byte(jsonStr), &result)
	return result
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// CreateTestMessageRequest creates a user turn payload
func CreateTestMessageRequest(text string) map[string]interface{} {
	return map[string]interface{}{
		"text": text,
	}
}
