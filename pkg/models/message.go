// Package models defines the shared domain types for the Ema companion
// server: conversation messages, tool calls, persisted buffer entries, and
// the event payloads exchanged between the agent runtime and its clients.
package models

import (
	"encoding/json"
	"fmt"
)

// ContentType discriminates Content variants.
type ContentType string

const (
	// ContentText is the only variant the runtime currently accepts.
	ContentText ContentType = "text"
	// ContentImage is recognized at the boundary but not yet supported.
	ContentImage ContentType = "image"
)

// Content is one piece of a message payload.
type Content struct {
	Type ContentType `json:"type" bson:"type"`
	Text string      `json:"text,omitempty" bson:"text,omitempty"`
}

// TextContent builds a text Content.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// Validate rejects content variants the runtime does not support yet.
func (c Content) Validate() error {
	if c.Type != ContentText {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("unsupported content type %q", c.Type)}
	}
	return nil
}

// Role indicates the author of a conversation Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is a model-requested function invocation. ID is the provider's
// call identifier, echoed back on the matching tool message.
type ToolCall struct {
	ID   string          `json:"id,omitempty" bson:"id,omitempty"`
	Name string          `json:"name" bson:"name"`
	Args json.RawMessage `json:"args" bson:"args"`
	// ThoughtSignature is an opaque provider token echoed back on replay.
	ThoughtSignature string `json:"thought_signature,omitempty" bson:"thought_signature,omitempty"`
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Success bool   `json:"success" bson:"success"`
	Content string `json:"content,omitempty" bson:"content,omitempty"`
	Error   string `json:"error,omitempty" bson:"error,omitempty"`
}

// Message is one turn in the agent's working transcript. The populated
// fields depend on Role: user and model messages carry Contents, model
// messages may carry ToolCalls, tool messages carry a ToolName and Result.
type Message struct {
	Role      Role        `json:"role" bson:"role"`
	ID        string      `json:"id,omitempty" bson:"id,omitempty"`
	Name      string      `json:"name,omitempty" bson:"name,omitempty"`
	Contents  []Content   `json:"contents,omitempty" bson:"contents,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty" bson:"tool_calls,omitempty"`
	ToolName  string      `json:"tool_name,omitempty" bson:"tool_name,omitempty"`
	Result    *ToolResult `json:"result,omitempty" bson:"result,omitempty"`
}

// UserMessage builds a user-role message from contents.
func UserMessage(name string, contents ...Content) Message {
	return Message{Role: RoleUser, Name: name, Contents: contents}
}

// ToolMessage builds a tool-role message carrying a result.
func ToolMessage(id, name string, result ToolResult) Message {
	return Message{Role: RoleTool, ID: id, ToolName: name, Result: &result}
}

// Text concatenates the text of every text content in the message.
func (m Message) Text() string {
	out := ""
	for _, c := range m.Contents {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// BufferKind discriminates persisted conversation turns by author side.
type BufferKind string

const (
	BufferUser  BufferKind = "user"
	BufferActor BufferKind = "actor"
)

// BufferMessage is a conversation turn enriched for persistence and recall.
// Time is wall-clock Unix milliseconds; persisted order must match the
// order the owning worker observed the turns.
type BufferMessage struct {
	ID       int64      `json:"id" bson:"id"`
	Kind     BufferKind `json:"kind" bson:"kind"`
	Name     string     `json:"name" bson:"name"`
	Contents []Content  `json:"contents" bson:"contents"`
	Time     int64      `json:"time" bson:"time"`
}

// Text concatenates the text contents of the buffer message.
func (b BufferMessage) Text() string {
	out := ""
	for _, c := range b.Contents {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// ValidationError reports a rejected input to a public operation.
// Validation failures are synchronous and never mutate state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}
