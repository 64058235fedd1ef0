package assistant

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
)

// DefaultGeminiModel matches the model the voice pipeline ran on
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements LLMClient over the Gemini API
type GeminiClient struct {
	client  *genai.Client
	model   string
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
}

// NewGeminiClient creates a Gemini-backed LLM client. An empty model selects
// DefaultGeminiModel.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		tracer:  otel.Tracer("gemini-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Complete sends the working transcript to Gemini and returns either tool
// calls or final text
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "gemini.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	)

	contents := buildContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: buildDeclarations(req.Tools)}}
	}

	// Execute with circuit breaker
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Models.GenerateContent(ctx, c.model, contents, config)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	resp := result.(*genai.GenerateContentResponse)
	completion, err := parseResponse(resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(completion.ToolCalls)),
		attribute.Int64("llm.input_tokens", completion.Usage.InputTokens),
		attribute.Int64("llm.output_tokens", completion.Usage.OutputTokens),
	)

	return completion, nil
}

// buildContents converts the working transcript into Gemini contents. Tool
// results become function responses on the user role, which is how the Gemini
// API expects them back.
func buildContents(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case models.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				parts := make([]*genai.Part, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: call.Name,
							Args: call.Args,
						},
					})
				}
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
				continue
			}
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case models.RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.ToolName,
						Response: map[string]interface{}{"result": msg.Content},
					},
				},
			}, genai.RoleUser))
		}
	}
	return contents
}

// buildDeclarations converts tool definitions into Gemini function declarations
func buildDeclarations(tools []ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]*genai.Schema, len(tool.Parameters))
		var required []string
		for _, param := range tool.Parameters {
			schema := &genai.Schema{Description: param.Description}
			switch param.Type {
			case "integer":
				schema.Type = genai.TypeInteger
			default:
				schema.Type = genai.TypeString
			}
			properties[param.Name] = schema
			if param.Required {
				required = append(required, param.Name)
			}
		}

		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return decls
}

// parseResponse extracts text, tool calls and usage from a Gemini response
func parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	completion := &CompletionResponse{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
			continue
		}
		if part.Text != "" {
			completion.Text += part.Text
		}
	}

	if resp.UsageMetadata != nil {
		completion.Usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		completion.Usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	return completion, nil
}
