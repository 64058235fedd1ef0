package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
)

func TestBuildContents(t *testing.T) {
	messages := []Message{
		{Role: models.RoleUser, Content: "Add peanut butter please"},
		{Role: models.RoleAssistant, ToolCalls: []ToolCall{
			{Name: ToolAddToCart, Args: map[string]interface{}{"item_name": "peanut butter"}},
		}},
		{Role: models.RoleTool, ToolName: ToolAddToCart, Content: "Added 1 x Peanut Butter to cart."},
		{Role: models.RoleAssistant, Content: "Done! Anything else?"},
	}

	contents := buildContents(messages)
	require.Len(t, contents, 4)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, "Add peanut butter please", contents[0].Parts[0].Text)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, ToolAddToCart, contents[1].Parts[0].FunctionCall.Name)

	assert.Equal(t, genai.RoleUser, contents[2].Role)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, ToolAddToCart, contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "Added 1 x Peanut Butter to cart.", contents[2].Parts[0].FunctionResponse.Response["result"])

	assert.Equal(t, genai.RoleModel, contents[3].Role)
	assert.Equal(t, "Done! Anything else?", contents[3].Parts[0].Text)
}

func TestBuildDeclarations(t *testing.T) {
	tools := []ToolDefinition{
		{
			Name:        ToolAddToCart,
			Description: "Add an item to the shopping cart.",
			Parameters: []ToolParam{
				{Name: "item_name", Type: "string", Description: "The name of the item to add.", Required: true},
				{Name: "quantity", Type: "integer", Description: "The quantity to add. Defaults to 1."},
			},
		},
		{
			Name:        ToolGetCatalog,
			Description: "Get the list of available categories and items in the catalog.",
		},
	}

	decls := buildDeclarations(tools)
	require.Len(t, decls, 2)

	addToCart := decls[0]
	assert.Equal(t, ToolAddToCart, addToCart.Name)
	require.NotNil(t, addToCart.Parameters)
	assert.Equal(t, genai.TypeObject, addToCart.Parameters.Type)
	assert.Equal(t, genai.TypeString, addToCart.Parameters.Properties["item_name"].Type)
	assert.Equal(t, genai.TypeInteger, addToCart.Parameters.Properties["quantity"].Type)
	assert.Equal(t, []string{"item_name"}, addToCart.Parameters.Required)

	getCatalog := decls[1]
	assert.Equal(t, ToolGetCatalog, getCatalog.Name)
	assert.Empty(t, getCatalog.Parameters.Properties)
}

func TestParseResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{Text: "Your order is on its way."},
					},
				},
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     120,
			CandidatesTokenCount: 15,
		},
	}

	completion, err := parseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "Your order is on its way.", completion.Text)
	assert.Empty(t, completion.ToolCalls)
	assert.Equal(t, int64(120), completion.Usage.InputTokens)
	assert.Equal(t, int64(15), completion.Usage.OutputTokens)
}

func TestParseResponseToolCalls(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{FunctionCall: &genai.FunctionCall{
							Name: ToolAddToCart,
							Args: map[string]interface{}{"item_name": "apple", "quantity": float64(2)},
						}},
					},
				},
			},
		},
	}

	completion, err := parseResponse(resp)
	require.NoError(t, err)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, ToolAddToCart, completion.ToolCalls[0].Name)
	assert.Equal(t, "apple", completion.ToolCalls[0].Args["item_name"])
}

func TestParseResponseNoCandidates(t *testing.T) {
	_, err := parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	_, err = parseResponse(nil)
	assert.Error(t, err)
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "")
	assert.Error(t, err)
}
