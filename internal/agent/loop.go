package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/h1v3-io/skycast/internal/tool"
	"github.com/h1v3-io/skycast/internal/weather"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

// State is a step of the exchange state machine.
type State int

const (
	AwaitingUserInput State = iota
	ModelTurn1
	ExecutingTool
	ModelTurn2
	Done
	Error
)

func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case ModelTurn1:
		return "model_turn_1"
	case ExecutingTool:
		return "executing_tool"
	case ModelTurn2:
		return "model_turn_2"
	case Done:
		return "done"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Busy indicator labels.
const (
	busyThinking = "Processing your request..."
	busyReport   = "Generating weather report..."
)

// Outcome summarizes a finished exchange. State is Done or Error. Turn is the
// assistant display turn produced, nil when the exchange failed. Err is set
// in the Error state and when a tool call lacked its location.
type Outcome struct {
	ExchangeID string
	State      State
	Turn       *protocol.DisplayTurn
	Err        error
}

// HandleUserInput runs one exchange: it appends the query, asks the model,
// runs a requested weather lookup and asks the model again for the final
// answer. Nothing is returned as a Go error; failures are reported through s
// and the Outcome.
func (l *Loop) HandleUserInput(ctx context.Context, conv *protocol.Conversation, query string, s Surface) Outcome {
	if s == nil {
		s = NopSurface{}
	}
	out := Outcome{ExchangeID: uuid.NewString(), State: AwaitingUserInput}
	log := l.logger().With("exchange", out.ExchangeID)

	mark := conv.Mark()
	// Rendered now even though a failed first model call rolls it back.
	s.Render(conv.AppendUser(query))

	// Model turn 1
	out.State = ModelTurn1
	log.Debug("exchange started", "api_turns", len(conv.API))
	stop := s.Busy(busyThinking)
	first, err := l.Provider.Complete(ctx, conv.API)
	stop()
	if err != nil {
		log.Error("model request failed", "state", out.State.String(), "error", err)
		s.ShowError(fmt.Sprintf("Failed to get response from the model: %v", err))
		// Keep the API log alternating: the next query must not follow an
		// unanswered user turn.
		conv.Rollback(mark)
		out.State = Error
		out.Err = fmt.Errorf("agent: model turn 1: %w", err)
		return out
	}
	if first.ToolInputErr != nil {
		s.ShowError(fmt.Sprintf("Issue with tool input: %v", first.ToolInputErr))
	}

	if !first.HasToolCall() || first.ToolCall.Name != tool.GetWeatherName {
		if first.HasToolCall() {
			log.Warn("ignoring unknown tool", "tool", first.ToolCall.Name)
		}
		return out.finish(s, conv.AppendAssistant(first.Text, "", protocol.PlaceholderAnswer))
	}

	call := *first.ToolCall
	location, err := tool.Location(&call)
	if err != nil {
		log.Error("no location provided by the tool", "tool_use_id", call.ID, "error", err)
		s.ShowError("No location provided by the tool")
		out.Err = err
		return out.finish(s, conv.AppendAssistant(first.Text, "", protocol.PlaceholderAnswer))
	}

	// Tool execution
	out.State = ExecutingTool
	log.Info(fmt.Sprintf("tool call: %s", call.Name), "tool_use_id", call.ID, "location", location)
	stop = s.Busy(fmt.Sprintf("Getting weather for %s...", location))
	result, err := l.Weather.Fetch(ctx, location)
	stop()
	if err != nil {
		log.Warn("weather lookup failed", "location", location, "error", err)
		s.ShowError(fmt.Sprintf("Error getting weather: %v", err))
		result = weather.Fallback()
	}
	conv.AppendToolExchange(first.Text, call, result.Summary)
	icon := protocol.NormalizeIcon(result.IconRef)

	// Model turn 2
	out.State = ModelTurn2
	stop = s.Busy(busyReport)
	final, err := l.Provider.Complete(ctx, conv.API)
	stop()
	if err != nil {
		log.Error("model request failed", "state", out.State.String(), "error", err)
		s.ShowError(fmt.Sprintf("Failed to get response from the model: %v", err))
	}
	if err != nil || final.Text == "" {
		fallback := fmt.Sprintf("Here's the current weather for %s: %s", location, result.Summary)
		return out.finish(s, conv.AppendAssistant(fallback, icon, protocol.PlaceholderFinalAnswer))
	}
	if final.HasToolCall() {
		log.Warn("ignoring tool call in final turn", "tool", final.ToolCall.Name)
	}
	return out.finish(s, conv.AppendAssistant(final.Text, icon, protocol.PlaceholderFinalAnswer))
}

func (o Outcome) finish(s Surface, turn protocol.DisplayTurn) Outcome {
	o.State = Done
	o.Turn = &turn
	s.Render(turn)
	return o
}
