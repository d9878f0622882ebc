package agent

import (
	"context"
	"log/slog"

	"github.com/h1v3-io/skycast/internal/provider"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

// WeatherFetcher looks up current conditions for a location.
type WeatherFetcher interface {
	Fetch(ctx context.Context, location string) (*protocol.WeatherResult, error)
}

// Surface is the chat surface an exchange reports to. Render receives every
// display turn appended during the exchange, the user's own turn included.
// A user turn already rendered is dropped from history again when the first
// model call fails.
// Busy starts a progress indicator and returns the function that stops it.
type Surface interface {
	Render(turn protocol.DisplayTurn)
	ShowError(msg string)
	Busy(status string) (done func())
}

// NopSurface discards everything.
type NopSurface struct{}

func (NopSurface) Render(protocol.DisplayTurn) {}
func (NopSurface) ShowError(string)            {}
func (NopSurface) Busy(string) func()          { return func() {} }

// Loop drives one exchange at a time over a caller-owned Conversation.
type Loop struct {
	Provider provider.Provider
	Weather  WeatherFetcher
	Logger   *slog.Logger
}

// New creates a Loop with the default logger.
func New(prov provider.Provider, weather WeatherFetcher) *Loop {
	return &Loop{
		Provider: prov,
		Weather:  weather,
		Logger:   slog.Default(),
	}
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
