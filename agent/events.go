// Package agent spawns coding-agent processes inside sandbox sessions,
// streams their structured output, and enforces wall-clock budgets that
// exclude simulator runtime.
package agent

import (
	"encoding/json"
)

// EventType tags one streamed agent event.
type EventType string

const (
	EventText       EventType = "text"
	EventThinking   EventType = "thinking"
	EventTool       EventType = "tool"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
)

// Event is one item of the agent's stream-JSON output.
type Event struct {
	Type    EventType
	Content string
}

// The agent CLI emits one JSON object per stdout line. The shapes consumed
// here are a superset of {type, message?.content[], tool, input, is_error,
// error.message}; unknown types and malformed lines are ignored.
type streamLine struct {
	Type    string `json:"type"`
	Message *struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input"`
	IsError bool            `json:"is_error"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type contentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"`
	IsError  bool            `json:"is_error"`
}

// parseStreamLine converts one stdout line into zero or more events.
// Unparsable lines yield nothing.
func parseStreamLine(line []byte) []Event {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil
	}

	var events []Event

	if sl.Type == "error" {
		msg := "agent error"
		if sl.Error != nil && sl.Error.Message != "" {
			msg = sl.Error.Message
		}
		return []Event{{Type: EventError, Content: msg}}
	}

	// Flat tool-invocation shape.
	if sl.Tool != "" {
		content := sl.Tool
		if len(sl.Input) > 0 {
			content += " " + string(sl.Input)
		}
		events = append(events, Event{Type: EventTool, Content: content})
	}

	if sl.Message != nil {
		for _, block := range sl.Message.Content {
			switch block.Type {
			case "text":
				events = append(events, Event{Type: EventText, Content: block.Text})
			case "thinking":
				events = append(events, Event{Type: EventThinking, Content: block.Thinking})
			case "tool_use":
				content := block.Name
				if len(block.Input) > 0 {
					content += " " + string(block.Input)
				}
				events = append(events, Event{Type: EventTool, Content: content})
			case "tool_result":
				typ := EventToolResult
				if block.IsError {
					typ = EventError
				}
				events = append(events, Event{Type: typ, Content: rawToString(block.Content)})
			}
		}
	}

	return events
}

// rawToString renders a tool_result content value, which may be a plain
// JSON string or a structured block list.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

