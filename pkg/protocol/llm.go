package protocol

// Role tags a turn in either log.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the ContentBlock union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Turn is a single entry of the API log sent to the completion endpoint.
type Turn struct {
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlock is a tagged union: exactly one of Text, ToolUse or ToolResult
// is meaningful, selected by Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolCall   `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolResult echoes a tool call's id and name alongside the tool output.
type ToolResult struct {
	ToolUseID string   `json:"tool_use_id"`
	Name      string   `json:"name"`
	Content   []string `json:"content"`
}

// ToolCall represents the model requesting a tool execution.
type ToolCall struct {
	ID    string         `json:"tool_use_id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolUseBlock builds a tool_use block echoing call.
func ToolUseBlock(call ToolCall) ContentBlock {
	if call.Input == nil {
		call.Input = map[string]any{}
	}
	return ContentBlock{Type: BlockToolUse, ToolUse: &call}
}

// ToolResultBlock builds a tool_result block answering call with text.
func ToolResultBlock(call ToolCall, text string) ContentBlock {
	return ContentBlock{
		Type: BlockToolResult,
		ToolResult: &ToolResult{
			ToolUseID: call.ID,
			Name:      call.Name,
			Content:   []string{text},
		},
	}
}

// Completion is the reduced result of one completion call.
type Completion struct {
	Text     string
	ToolCall *ToolCall
	// ToolInputErr is set when tool input arrived but could not be parsed.
	// ToolCall is nil in that case; Text is still valid.
	ToolInputErr error
}

// HasToolCall returns true if the model requested a tool.
func (c *Completion) HasToolCall() bool {
	return c != nil && c.ToolCall != nil
}
