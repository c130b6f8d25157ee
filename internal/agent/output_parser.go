package agent

import (
	"encoding/json"
	"strings"
)

// StreamJSONMessage is one line of an agent's stream-json output format
// (one JSON object per line, mixing assistant turns, tool results, and
// final results in a single stream).
type StreamJSONMessage struct {
	Type    string        `json:"type"`
	Subtype string        `json:"subtype,omitempty"`
	Message *AssistantMsg `json:"message,omitempty"`
	Result  string        `json:"result,omitempty"`
	Text    string        `json:"text,omitempty"`
	Stdout  string        `json:"stdout,omitempty"`
	Stderr  string        `json:"stderr,omitempty"`
}

// AssistantMsg is the content of one assistant turn.
type AssistantMsg struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of an assistant turn's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"` // tool name, for type "tool_use"
}

// ParseStreamJSONOutput extracts human-readable text from one line of an
// agent's stream-json output. Lines that aren't JSON, or that fail to
// parse, are returned unchanged so callers always have something to show.
// hasContent is false only for lines that parsed successfully but carry
// nothing worth displaying (e.g. blank input, a skipped system message).
func ParseStreamJSONOutput(line string) (text string, hasContent bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	if !strings.HasPrefix(line, "{") {
		return line, true
	}

	var msg StreamJSONMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return line, true
	}

	switch msg.Type {
	case "assistant":
		return assistantText(msg.Message)
	case "result":
		return msg.Result, msg.Result != ""
	case "text":
		return msg.Text, msg.Text != ""
	case "system":
		return systemText(msg)
	default:
		return "", false
	}
}

// assistantText joins every text content block in an assistant turn.
func assistantText(m *AssistantMsg) (string, bool) {
	if m == nil {
		return "", false
	}
	var texts []string
	for _, block := range m.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, "\n"), true
}

// systemText surfaces stdout/stderr carried on a system message, except
// hook_response which is too noisy to show.
func systemText(msg StreamJSONMessage) (string, bool) {
	if msg.Subtype == "hook_response" {
		return "", false
	}
	if msg.Stdout != "" {
		return msg.Stdout, true
	}
	if msg.Stderr != "" {
		return msg.Stderr, true
	}
	return "", false
}
