package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/nugget/taskmate/internal/httpkit"
)

// GeminiClient talks to the Gemini API through the Google Gen AI SDK.
type GeminiClient struct {
	client    *genai.Client
	pingModel string
	opts      Options
	logger    *slog.Logger
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey, pingModel string, opts Options, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{
		client:    client,
		pingModel: pingModel,
		opts:      opts,
		logger:    logger.With("provider", "gemini"),
	}, nil
}

// Chat sends a GenerateContent request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)
	temp := float32(Temperature)
	config := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(c.opts.maxTokens()),
		Tools:           convertToolsToGemini(tools),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	result := convertFromGemini(resp, model)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	return result, nil
}

// Ping fetches the metadata of the configured model.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.pingModel, nil); err != nil {
		return wrapGeminiError(err)
	}
	return nil
}

// convertToGemini maps messages onto Gemini contents. System messages
// become the system instruction; tool results travel as user-side
// function responses.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     msg.Name,
				Response: geminiToolResponse(msg),
			}}
			if n := len(contents); n > 0 && contents[n-1].Role == genai.RoleUser && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return contents, strings.Join(systemParts, "\n\n")
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return len(c.Parts) > 0
}

// geminiToolResponse needs an object. JSON objects pass through; any
// other content is wrapped under "output" or "error".
func geminiToolResponse(msg Message) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &obj); err == nil && obj != nil {
		return obj
	}
	var value any
	if err := json.Unmarshal([]byte(msg.Content), &value); err != nil {
		value = msg.Content
	}
	if msg.Status == StatusError {
		return map[string]any{"error": value}
	}
	return map[string]any{"output": value}
}

func convertToolsToGemini(tools []map[string]any) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        name,
			Description: desc,
			Parameters:  toGeminiSchema(params),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON Schema map into the subset Gemini accepts.
// Multi-type properties collapse to their first non-null type.
func toGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{}
	switch t := m["type"].(type) {
	case string:
		s.Type = genai.Type(strings.ToUpper(t))
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				s.Type = genai.Type(strings.ToUpper(name))
				break
			}
		}
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	switch req := m["required"].(type) {
	case []any:
		for _, r := range req {
			if v, ok := r.(string); ok {
				s.Required = append(s.Required, v)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	return s
}

func convertFromGemini(resp *genai.GenerateContentResponse, model string) *ChatResponse {
	result := &ChatResponse{
		Model:   model,
		Done:    true,
		Message: Message{Role: RoleAssistant},
	}
	if resp == nil {
		return result
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		result.InputTokens = int(u.PromptTokenCount)
		result.OutputTokens = int(u.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			result.Message.ToolCalls = append(result.Message.ToolCalls, ToolCall{
				ID:       fc.ID,
				Function: FunctionCall{Name: fc.Name, Arguments: args},
			})
		}
	}
	result.Message.Content = text.String()
	return result
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
