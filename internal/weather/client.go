package weather

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/h1v3-io/skycast/internal/httputil"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

const (
	serviceName    = "weather"
	defaultBaseURL = "https://api.weatherapi.com/v1"
	defaultTimeout = 15 * time.Second
	maxBodySize    = 1 << 20

	// FallbackSummary replaces the summary whenever a lookup fails.
	FallbackSummary = "Unable to fetch weather data."
	// NotAvailableSummary is used when the provider answers without current conditions.
	NotAvailableSummary = "Weather data not available."

	unknownCondition = "Weather condition unknown"
	notAvailable     = "N/A"
)

// Client looks up current conditions from a WeatherAPI-compatible provider.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a weather client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the current weather for location.
func (c *Client) Fetch(ctx context.Context, location string) (*protocol.WeatherResult, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", location)
	reqURL := c.baseURL + "/current.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &protocol.TransportError{Service: serviceName, Err: redact(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &protocol.TransportError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Body:       httputil.ErrorBody(resp),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &protocol.TransportError{Service: serviceName, Err: err}
	}

	result, err := parse(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("weather fetched", "location", location, "summary", result.Summary)
	return result, nil
}

func parse(body []byte) (*protocol.WeatherResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("weather: decode response: %w", protocol.ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("weather: response is not an object: %w", protocol.ErrMalformedResponse)
	}

	current := root.Get("current")
	if !current.IsObject() || len(current.Map()) == 0 {
		return &protocol.WeatherResult{Summary: NotAvailableSummary}, nil
	}

	text := current.Get("condition.text").String()
	if text == "" {
		text = unknownCondition
	}
	summary := fmt.Sprintf("%s. Temperature: %s°F, Humidity: %s%%, Wind: %s mph",
		text,
		number(current.Get("temp_f")),
		number(current.Get("humidity")),
		number(current.Get("wind_mph")),
	)
	return &protocol.WeatherResult{
		Summary: summary,
		IconRef: current.Get("condition.icon").String(),
	}, nil
}

// number renders a numeric field, dropping a trailing ".0" and degrading
// anything absent or non-numeric to "N/A".
func number(r gjson.Result) string {
	switch r.Type {
	case gjson.Number:
		return strconv.FormatFloat(r.Float(), 'f', -1, 64)
	case gjson.String:
		if r.String() != "" {
			return r.String()
		}
	}
	return notAvailable
}

// Fallback is the result substituted for a failed lookup so the
// conversation can continue.
func Fallback() *protocol.WeatherResult {
	return &protocol.WeatherResult{Summary: FallbackSummary}
}

// redact strips the query string (which carries the API key) from URL errors.
func redact(err error) error {
	if ue, ok := err.(*url.Error); ok {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
