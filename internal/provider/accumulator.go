package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// fragment is one content item of a response delta. It is either a
// textFragment or a toolUseDelta.
type fragment interface {
	apply(acc *BlockAccumulator)
}

type textFragment struct {
	Text string
}

func (f textFragment) apply(acc *BlockAccumulator) {
	acc.text.WriteString(f.Text)
}

// toolUseDelta carries a piece of a tool call. The arguments may be split
// across several deltas; only the first one carries the id and name.
type toolUseDelta struct {
	ToolUseID string
	Name      string
	Input     string
}

func (f toolUseDelta) apply(acc *BlockAccumulator) {
	if f.ToolUseID != "" {
		acc.toolUseID = f.ToolUseID
		acc.toolName = f.Name
		acc.sawToolUse = true
	}
	acc.input.WriteString(f.Input)
}

// BlockAccumulator reduces response fragments into a Completion.
// Not safe for concurrent use; each call owns its own accumulator.
type BlockAccumulator struct {
	text       strings.Builder
	input      strings.Builder
	toolUseID  string
	toolName   string
	sawToolUse bool
}

// Add folds one fragment into the accumulator.
func (acc *BlockAccumulator) Add(f fragment) {
	f.apply(acc)
}

// Finish returns the accumulated completion. A tool input that does not parse
// as a JSON object is reported through ToolInputErr and the tool call is dropped.
func (acc *BlockAccumulator) Finish() *protocol.Completion {
	c := &protocol.Completion{Text: acc.text.String()}

	raw := strings.TrimSpace(acc.input.String())
	if raw == "" && !acc.sawToolUse {
		return c
	}

	input := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			c.ToolInputErr = fmt.Errorf("cortex: tool input %q: %w: %v", raw, protocol.ErrMalformedResponse, err)
			return c
		}
		if input == nil {
			input = map[string]any{}
		}
	}

	c.ToolCall = &protocol.ToolCall{
		ID:    acc.toolUseID,
		Name:  acc.toolName,
		Input: input,
	}
	return c
}
