package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/h1v3-io/skycast/internal/httputil"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

const (
	cortexService      = "cortex"
	defaultCortexPath  = "/api/v2/cortex/inference:complete"
	defaultCortexModel = "claude-3-7-sonnet"
	// DefaultTimeout is the hard deadline for one completion call.
	DefaultTimeout = 50 * time.Second
)

// CortexProvider implements Provider for the Snowflake Cortex inference:complete API.
type CortexProvider struct {
	client    *http.Client
	baseURL   string
	path      string
	token     string
	tokenType string
	model     string
	tools     []protocol.ToolDefinition
	logger    *slog.Logger
}

// CortexOption configures a CortexProvider.
type CortexOption func(*CortexProvider)

// WithCortexPath overrides the completion endpoint path.
func WithCortexPath(path string) CortexOption {
	return func(p *CortexProvider) { p.path = path }
}

// WithCortexModel sets the model identifier.
func WithCortexModel(model string) CortexOption {
	return func(p *CortexProvider) { p.model = model }
}

// WithCortexTimeout sets the request deadline.
func WithCortexTimeout(d time.Duration) CortexOption {
	return func(p *CortexProvider) { p.client.Timeout = d }
}

// WithTokenType sets the X-Snowflake-Authorization-Token-Type header.
func WithTokenType(t string) CortexOption {
	return func(p *CortexProvider) { p.tokenType = t }
}

// WithTools sets the tool declarations sent with every request.
func WithTools(defs ...protocol.ToolDefinition) CortexOption {
	return func(p *CortexProvider) { p.tools = defs }
}

// WithCortexLogger sets the logger.
func WithCortexLogger(l *slog.Logger) CortexOption {
	return func(p *CortexProvider) { p.logger = l }
}

// NewCortex creates a completion client for the account at baseURL.
func NewCortex(baseURL, token string, opts ...CortexOption) *CortexProvider {
	p := &CortexProvider{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: baseURL,
		path:    defaultCortexPath,
		token:   token,
		model:   defaultCortexModel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CortexProvider) Name() string { return cortexService }

// Model returns the configured model identifier.
func (p *CortexProvider) Model() string { return p.model }

// Complete sends the conversation and reduces the response fragments.
func (p *CortexProvider) Complete(ctx context.Context, turns []protocol.Turn) (*protocol.Completion, error) {
	body := cortexRequest{
		Model:    p.model,
		Messages: toCortexMessages(turns),
	}
	if len(p.tools) > 0 {
		body.Tools = toCortexTools(p.tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cortex: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cortex: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}
	if p.tokenType != "" {
		httpReq.Header.Set("X-Snowflake-Authorization-Token-Type", p.tokenType)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.TransportError{Service: cortexService, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &protocol.TransportError{
			Service:    cortexService,
			StatusCode: resp.StatusCode,
			Body:       httputil.ErrorBody(resp),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &protocol.TransportError{Service: cortexService, Err: err}
	}

	frags, err := decodeEnvelope(respBody)
	if err != nil {
		return nil, err
	}
	completion, err := reduceFragments(frags)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("cortex completion",
		"model", p.model,
		"turns", len(turns),
		"fragments", len(frags),
		"text_len", len(completion.Text),
		"tool_call", completion.HasToolCall(),
		"elapsed", time.Since(start),
	)
	if completion.ToolInputErr != nil {
		p.logger.Error("issue with tool input", "error", completion.ToolInputErr)
	}
	return completion, nil
}
