package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/robfig/cron/v3"
)

var (
	pathRe     = regexp.MustCompile(`^/\S*$`)
	endpointRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Completion),
		validation.Field(&c.Weather),
		validation.Field(&c.Connectors),
		validation.Field(&c.API),
		validation.Field(&c.Sessions),
	)
	if err == nil {
		return nil
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return fmt.Errorf("config: %w", err)
	}

	var msgs []string
	collect("", err, &msgs)
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (c CompletionConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.In(CompletionCortex, CompletionOpenAI)),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Token, validation.When(c.Type != CompletionOpenAI, validation.Required)),
		validation.Field(&c.Path, validation.Required, validation.Match(pathRe)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.TimeoutMS, validation.Min(1)),
	)
}

func (c WeatherConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.TimeoutMS, validation.Min(1)),
	)
}

func (c ConnectorConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Telegram),
		validation.Field(&c.Slack),
		validation.Field(&c.Webhook),
	)
}

func (c WebhookConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoints, validation.Required, validation.By(endpointNames)),
	)
}

func (e WebhookEndpoint) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ReplyURL, validation.Required, is.URL),
	)
}

func (c TelegramConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token, validation.Required),
	)
}

func (c SlackConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BotToken, validation.Required),
		validation.Field(&c.AppToken, validation.Required),
	)
}

func (c APIConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.CORSOrigins, validation.Each(validation.By(corsOrigin))),
	)
}

func (c SessionsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.IdleTTL, validation.Required, validation.By(positiveDuration)),
		validation.Field(&c.SweepSchedule, validation.Required, validation.By(cronSchedule)),
	)
}

// endpointNames rejects names that cannot appear as a path segment or
// before the ':' of a webhook chat id.
func endpointNames(value interface{}) error {
	endpoints, _ := value.(map[string]WebhookEndpoint)
	for name := range endpoints {
		if !endpointRe.MatchString(name) {
			return fmt.Errorf("invalid endpoint name %q", name)
		}
	}
	return nil
}

func corsOrigin(value interface{}) error {
	s, _ := value.(string)
	if s == "*" {
		return nil
	}
	return is.URL.Validate(s)
}

func positiveDuration(value interface{}) error {
	s, _ := value.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration like 30m or 24h")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func cronSchedule(value interface{}) error {
	s, _ := value.(string)
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid schedule: %v", err)
	}
	return nil
}

// collect flattens nested validation.Errors into "a.b: message" lines,
// sorted by key.
func collect(prefix string, err error, out *[]string) {
	var es validation.Errors
	if !errors.As(err, &es) {
		*out = append(*out, fmt.Sprintf("%s: %s", strings.TrimSuffix(prefix, "."), err.Error()))
		return
	}
	keys := make([]string, 0, len(es))
	for k := range es {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if es[k] != nil {
			collect(prefix+k+".", es[k], out)
		}
	}
}
