package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/h1v3-io/skycast/internal/httputil"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

const (
	openaiService      = "openai"
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIPath  = "/chat/completions"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAIProvider implements Provider for any OpenAI-compatible chat
// completions API (OpenAI, OpenRouter, Groq, a local vLLM, etc.).
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	path    string
	apiKey  string
	model   string
	tools   []protocol.ToolDefinition
	logger  *slog.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithOpenAIPath overrides the chat completions path.
func WithOpenAIPath(path string) OpenAIOption {
	return func(p *OpenAIProvider) { p.path = path }
}

// WithModel sets the model.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// WithOpenAITimeout sets the request deadline.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.client.Timeout = d }
}

// WithOpenAITools sets the tool declarations sent with every request.
func WithOpenAITools(defs ...protocol.ToolDefinition) OpenAIOption {
	return func(p *OpenAIProvider) { p.tools = defs }
}

// WithOpenAILogger sets the logger.
func WithOpenAILogger(l *slog.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.logger = l }
}

// NewOpenAI creates a new OpenAI-compatible provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: defaultOpenAIURL,
		path:    defaultOpenAIPath,
		apiKey:  apiKey,
		model:   defaultOpenAIModel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return openaiService }

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends the conversation as chat messages. Only the first tool call
// of a response is used.
func (p *OpenAIProvider) Complete(ctx context.Context, turns []protocol.Turn) (*protocol.Completion, error) {
	body := openaiRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(turns),
	}
	for _, d := range p.tools {
		body.Tools = append(body.Tools, openaiTool{
			Type:     "function",
			Function: openaiFunction{Name: d.Name, Description: d.Description, Parameters: d.InputSchema},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.TransportError{Service: openaiService, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &protocol.TransportError{
			Service:    openaiService,
			StatusCode: resp.StatusCode,
			Body:       httputil.ErrorBody(resp),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &protocol.TransportError{Service: openaiService, Err: err}
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("openai: unmarshal response: %w: %v", protocol.ErrMalformedResponse, err)
	}

	completion, err := parseOpenAIResponse(&oaiResp)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("openai completion",
		"model", p.model,
		"turns", len(turns),
		"prompt_tokens", oaiResp.Usage.PromptTokens,
		"completion_tokens", oaiResp.Usage.CompletionTokens,
		"tool_call", completion.HasToolCall(),
	)
	if completion.ToolInputErr != nil {
		p.logger.Error("issue with tool input", "error", completion.ToolInputErr)
	}
	return completion, nil
}

// --- OpenAI wire format types ---

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Tools    []openaiTool    `json:"tools,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// --- Conversion helpers ---

// toOpenAIMessages maps API-log turns to chat messages. A tool_use block
// becomes an assistant tool call; a tool_result turn becomes a "tool" message.
func toOpenAIMessages(turns []protocol.Turn) []openaiMessage {
	out := make([]openaiMessage, 0, len(turns))
	for _, t := range turns {
		om := openaiMessage{Role: string(t.Role), Content: t.Content}
		for _, b := range t.Blocks {
			switch {
			case b.Type == protocol.BlockToolUse && b.ToolUse != nil:
				args, _ := json.Marshal(b.ToolUse.Input)
				om.ToolCalls = append(om.ToolCalls, openaiToolCall{
					ID:   b.ToolUse.ID,
					Type: "function",
					Function: openaiToolFunction{
						Name:      b.ToolUse.Name,
						Arguments: string(args),
					},
				})
			case b.Type == protocol.BlockToolResult && b.ToolResult != nil:
				om = openaiMessage{
					Role:       "tool",
					Content:    strings.Join(b.ToolResult.Content, "\n"),
					ToolCallID: b.ToolResult.ToolUseID,
				}
			}
		}
		out = append(out, om)
	}
	return out
}

func parseOpenAIResponse(resp *openaiResponse) (*protocol.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response: %w", protocol.ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message

	c := &protocol.Completion{Text: msg.Content}
	if len(msg.ToolCalls) == 0 {
		return c, nil
	}

	tc := msg.ToolCalls[0]
	input := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			c.ToolInputErr = fmt.Errorf("openai: tool arguments %q: %w: %v", raw, protocol.ErrMalformedResponse, err)
			return c, nil
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	c.ToolCall = &protocol.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input}
	return c, nil
}
