package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// --- Cortex wire format types ---

type cortexRequest struct {
	Model    string          `json:"model"`
	Messages []cortexMessage `json:"messages"`
	Tools    []cortexTool    `json:"tools,omitempty"`
}

type cortexMessage struct {
	Role        string        `json:"role"`
	Content     string        `json:"content"`
	ContentList []contentItem `json:"content_list,omitempty"`
}

// contentItem is a union type for request content blocks.
// Uses a custom marshaler to emit only the envelope relevant to each block type.
type contentItem struct {
	block protocol.ContentBlock
}

type wireToolUse struct {
	ToolUseID string         `json:"tool_use_id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

type wireText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireToolResults struct {
	ToolUseID string     `json:"tool_use_id"`
	Name      string     `json:"name"`
	Content   []wireText `json:"content"`
}

func (c contentItem) MarshalJSON() ([]byte, error) {
	b := c.block
	switch b.Type {
	case protocol.BlockToolUse:
		input := b.ToolUse.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type    string      `json:"type"`
			ToolUse wireToolUse `json:"tool_use"`
		}{"tool_use", wireToolUse{b.ToolUse.ID, b.ToolUse.Name, input}})
	case protocol.BlockToolResult:
		content := make([]wireText, 0, len(b.ToolResult.Content))
		for _, text := range b.ToolResult.Content {
			content = append(content, wireText{Type: "text", Text: text})
		}
		return json.Marshal(struct {
			Type        string          `json:"type"`
			ToolResults wireToolResults `json:"tool_results"`
		}{"tool_results", wireToolResults{b.ToolResult.ToolUseID, b.ToolResult.Name, content}})
	default:
		return json.Marshal(wireText{Type: "text", Text: b.Text})
	}
}

type cortexTool struct {
	ToolSpec cortexToolSpec `json:"tool_spec"`
}

type cortexToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type responseFragment struct {
	Data struct {
		Choices []struct {
			Delta struct {
				ContentList []json.RawMessage `json:"content_list"`
			} `json:"delta"`
		} `json:"choices"`
	} `json:"data"`
}

type rawContent struct {
	Type      *string         `json:"type"`
	Text      string          `json:"text"`
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// --- Conversion helpers ---

func toCortexMessages(turns []protocol.Turn) []cortexMessage {
	msgs := make([]cortexMessage, 0, len(turns))
	for _, t := range turns {
		m := cortexMessage{Role: string(t.Role), Content: t.Content}
		for _, b := range t.Blocks {
			if b.Type == protocol.BlockToolUse && b.ToolUse == nil {
				continue
			}
			if b.Type == protocol.BlockToolResult && b.ToolResult == nil {
				continue
			}
			m.ContentList = append(m.ContentList, contentItem{block: b})
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func toCortexTools(defs []protocol.ToolDefinition) []cortexTool {
	tools := make([]cortexTool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, cortexTool{ToolSpec: cortexToolSpec{
			Type:        "generic",
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}})
	}
	return tools
}

// decodeEnvelope parses a response body into fragments. The endpoint answers
// with a JSON array of fragments; a single fragment object and server-sent
// event framing ("data: {...}" lines) are accepted as well.
func decodeEnvelope(body []byte) ([]responseFragment, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("cortex: empty response: %w", protocol.ErrMalformedResponse)
	}

	switch trimmed[0] {
	case '[':
		var frags []responseFragment
		if err := json.Unmarshal(trimmed, &frags); err != nil {
			return nil, fmt.Errorf("cortex: unmarshal response: %w: %v", protocol.ErrMalformedResponse, err)
		}
		return frags, nil
	case '{':
		var frag responseFragment
		if err := json.Unmarshal(trimmed, &frag); err != nil {
			return nil, fmt.Errorf("cortex: unmarshal response: %w: %v", protocol.ErrMalformedResponse, err)
		}
		return []responseFragment{frag}, nil
	}
	return decodeEventStream(trimmed)
}

func decodeEventStream(body []byte) ([]responseFragment, error) {
	var frags []responseFragment
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		var frag responseFragment
		if err := json.Unmarshal([]byte(data), &frag); err != nil {
			return nil, fmt.Errorf("cortex: unmarshal event: %w: %v", protocol.ErrMalformedResponse, err)
		}
		frags = append(frags, frag)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cortex: read events: %w: %v", protocol.ErrMalformedResponse, err)
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("cortex: no fragments in response: %w", protocol.ErrMalformedResponse)
	}
	return frags, nil
}

// decodeFragment classifies one content item. ok is false for item types
// that carry nothing this client uses.
func decodeFragment(raw json.RawMessage) (fragment, bool, error) {
	var c rawContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, fmt.Errorf("cortex: unmarshal content: %w: %v", protocol.ErrMalformedResponse, err)
	}

	if c.Type == nil || *c.Type == "" {
		return toolUseDelta{
			ToolUseID: c.ToolUseID,
			Name:      c.Name,
			Input:     inputText(c.Input),
		}, true, nil
	}
	if *c.Type == "text" {
		return textFragment{Text: c.Text}, true, nil
	}
	return nil, false, nil
}

// inputText returns tool input as text: partial JSON arrives as a string,
// but a complete object is accepted verbatim.
func inputText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func reduceFragments(frags []responseFragment) (*protocol.Completion, error) {
	var acc BlockAccumulator
	for _, f := range frags {
		for _, choice := range f.Data.Choices {
			for _, raw := range choice.Delta.ContentList {
				frag, ok, err := decodeFragment(raw)
				if err != nil {
					return nil, err
				}
				if ok {
					acc.Add(frag)
				}
			}
		}
	}
	return acc.Finish(), nil
}
