package provider

import (
	"context"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// Provider is the abstraction over the hosted completion endpoint.
type Provider interface {
	Complete(ctx context.Context, turns []protocol.Turn) (*protocol.Completion, error)
	Name() string
}
