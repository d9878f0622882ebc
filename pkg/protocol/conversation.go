package protocol

import "fmt"

// Placeholders substituted for empty content; the completion endpoint
// rejects turns with an empty content field.
const (
	PlaceholderToolUse     = "Processing your weather request..."
	PlaceholderAnswer      = "I've processed your request."
	PlaceholderFinalAnswer = "Here's your weather information."
)

// DisplayTurn is an entry of the display log shown to the end user.
type DisplayTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Icon    string `json:"icon,omitempty"`
}

// Conversation holds the two parallel logs of a chat. The display log omits
// tool plumbing; the API log keeps full fidelity.
type Conversation struct {
	Display []DisplayTurn `json:"display"`
	API     []Turn        `json:"api"`
}

// Mark records the current length of both logs.
type Mark struct {
	display int
	api     int
}

// Mark returns a position that Rollback can restore.
func (c *Conversation) Mark() Mark {
	return Mark{display: len(c.Display), api: len(c.API)}
}

// Rollback truncates both logs to m.
func (c *Conversation) Rollback(m Mark) {
	if m.display <= len(c.Display) {
		c.Display = c.Display[:m.display]
	}
	if m.api <= len(c.API) {
		c.API = c.API[:m.api]
	}
}

// AppendUser appends the user's query to both logs.
func (c *Conversation) AppendUser(query string) DisplayTurn {
	turn := DisplayTurn{Role: RoleUser, Content: query}
	c.Display = append(c.Display, turn)
	c.API = append(c.API, Turn{Role: RoleUser, Content: query})
	return turn
}

// AppendAssistant appends an assistant answer to both logs. Empty text is
// shown as-is but replaced by placeholder in the API log.
func (c *Conversation) AppendAssistant(text, icon, placeholder string) DisplayTurn {
	turn := DisplayTurn{Role: RoleAssistant, Content: text, Icon: icon}
	c.Display = append(c.Display, turn)
	c.API = append(c.API, Turn{Role: RoleAssistant, Content: nonEmpty(text, placeholder)})
	return turn
}

// AppendToolExchange appends the assistant tool_use turn and the user
// tool_result turn to the API log only.
func (c *Conversation) AppendToolExchange(text string, call ToolCall, result string) {
	c.API = append(c.API,
		Turn{
			Role:    RoleAssistant,
			Content: nonEmpty(text, PlaceholderToolUse),
			Blocks:  []ContentBlock{ToolUseBlock(call)},
		},
		Turn{
			Role:    RoleUser,
			Content: toolResultContent(call),
			Blocks:  []ContentBlock{ToolResultBlock(call, result)},
		},
	)
}

func toolResultContent(call ToolCall) string {
	if loc, ok := call.Input["location"].(string); ok && loc != "" {
		return "Tool result for weather query: " + loc
	}
	return "Tool result for " + call.Name
}

// Last returns the most recent display turn.
func (c *Conversation) Last() (DisplayTurn, bool) {
	if len(c.Display) == 0 {
		return DisplayTurn{}, false
	}
	return c.Display[len(c.Display)-1], true
}

// Validate checks the API log invariants: no empty content, user/assistant
// alternation, and every tool_use answered by exactly one tool_result with
// the same id in the turn that follows it.
func (c *Conversation) Validate() error {
	for i, t := range c.API {
		if t.Content == "" {
			return fmt.Errorf("api[%d]: empty content", i)
		}
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("api[%d]: unknown role %q", i, t.Role)
		}
		if i > 0 && c.API[i-1].Role == t.Role {
			return fmt.Errorf("api[%d]: consecutive %s turns", i, t.Role)
		}
		for _, b := range t.Blocks {
			switch b.Type {
			case BlockToolUse:
				if t.Role != RoleAssistant || b.ToolUse == nil {
					return fmt.Errorf("api[%d]: misplaced tool_use block", i)
				}
				if n := countResults(c.API[i+1:], b.ToolUse.ID); n != 1 {
					return fmt.Errorf("api[%d]: tool_use %q has %d results", i, b.ToolUse.ID, n)
				}
				if i+1 >= len(c.API) || !hasResult(c.API[i+1], b.ToolUse.ID) {
					return fmt.Errorf("api[%d]: tool_use %q not answered by next turn", i, b.ToolUse.ID)
				}
			case BlockToolResult:
				if t.Role != RoleUser || b.ToolResult == nil {
					return fmt.Errorf("api[%d]: misplaced tool_result block", i)
				}
			}
		}
	}
	return nil
}

func countResults(turns []Turn, id string) int {
	n := 0
	for _, t := range turns {
		if hasResult(t, id) {
			n++
		}
	}
	return n
}

func hasResult(t Turn, id string) bool {
	for _, b := range t.Blocks {
		if b.Type == BlockToolResult && b.ToolResult != nil && b.ToolResult.ToolUseID == id {
			return true
		}
	}
	return false
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
