package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/h1v3-io/skycast/internal/connector"
	"github.com/h1v3-io/skycast/internal/httputil"
)

const (
	name         = "webhook"
	maxBodyBytes = 1 << 20
	replyTimeout = 15 * time.Second
)

// Config holds webhook connector configuration.
type Config struct {
	// Endpoints maps endpoint names to their auth and reply settings.
	// e.g., {"kiosk": {Secret: "whsec_abc123", ReplyURL: "https://kiosk.example/replies"}}
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Signature-256 header).
	// Replies are signed with it too. If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
	// ReplyURL receives assistant replies as JSON POSTs.
	ReplyURL string `json:"reply_url"`
}

// Payload is the expected JSON body for inbound requests.
type Payload struct {
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
}

// Reply is the JSON body posted to an endpoint's ReplyURL.
type Reply struct {
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}

// Connector accepts questions at /api/webhook/{endpoint} and posts replies
// to the endpoint's ReplyURL. Chat ids are "endpoint:chat_id".
type Connector struct {
	config  Config
	handler connector.InboundHandler
	client  *http.Client
	logger  *slog.Logger
}

// New creates a new webhook connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		config:  cfg,
		handler: handler,
		client:  &http.Client{Timeout: replyTimeout},
		logger:  logger,
	}
}

func (c *Connector) Name() string { return name }

// Start blocks until ctx is cancelled. Requests arrive through ServeHTTP,
// mounted on the API server.
func (c *Connector) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *Connector) Stop() error { return nil }

// Send posts a reply to the ReplyURL of the chat's endpoint.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	endpointName, chatID, ok := strings.Cut(msg.ChatID, ":")
	if !ok {
		return fmt.Errorf("webhook: malformed chat_id %q", msg.ChatID)
	}
	endpoint, ok := c.config.Endpoints[endpointName]
	if !ok {
		return fmt.Errorf("webhook: unknown endpoint %q", endpointName)
	}

	body, err := json.Marshal(Reply{
		ChatID:   chatID,
		Content:  msg.Content,
		ImageURL: msg.ImageURL,
		IsError:  msg.IsError,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.ReplyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.Secret != "" {
		req.Header.Set("X-Signature-256", ComputeSignature(body, endpoint.Secret))
	} else if endpoint.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.BearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: reply rejected: HTTP %d: %s", resp.StatusCode, httputil.ErrorBody(resp))
	}
	return nil
}

// ServeHTTP handles webhook requests at /api/webhook/{endpoint}. It returns
// after the exchange has run and its replies have been posted.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpointName := extractName(r.URL.Path)
	if endpointName == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := c.config.Endpoints[endpointName]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", endpointName), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	inbound := connector.InboundMessage{
		Channel:  name,
		SenderID: payload.SenderID,
		ChatID:   endpointName + ":" + payload.ChatID,
		Content:  payload.Content,
	}
	if payload.SenderID == "" {
		inbound.SenderID = endpointName
	}
	if payload.ChatID == "" {
		inbound.ChatID = endpointName + ":" + endpointName
	}

	if err := c.handler(r.Context(), inbound); err != nil {
		c.logger.Error("webhook handler error",
			"endpoint", endpointName,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Hub-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}

	if endpoint.BearerToken != "" {
		return httputil.BearerMatches(r, endpoint.BearerToken)
	}

	// No auth configured; allowed for local development.
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	expectedMAC, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if path == "webhook" {
		return ""
	}
	return path
}

// ComputeSignature generates an HMAC-SHA256 signature in the "sha256=<hex>" form.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
