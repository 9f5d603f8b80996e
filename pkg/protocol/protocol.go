// Package protocol defines the hot reload wire protocol shared by the server
// and client runtimes.
//
// Every WebSocket text message carries exactly one JSON object:
//
//	{"type": "reload"}                    // full reload
//	{"type": "update", "url": "/src/a.js"} // targeted module update
//	{"type": "error", "error": "..."}     // show build error overlay
//	{"type": "clear"}                     // clear the overlay
//
// Any other type is reserved. Clients must ignore types they do not know.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the wire protocol revision. It changes only when an existing
// message changes meaning.
const Version = 1

// Types lists the message types this package defines.
var Types = []MessageType{TypeReload, TypeUpdate, TypeError, TypeClear}

// MessageType identifies a protocol message.
type MessageType string

const (
	TypeReload MessageType = "reload"
	TypeUpdate MessageType = "update"
	TypeError  MessageType = "error"
	TypeClear  MessageType = "clear"
)

// ErrMalformed is returned by Decode when a payload is not a JSON object with
// a string type field.
var ErrMalformed = errors.New("protocol: malformed message")

// Message is one server to client notification.
type Message struct {
	Type  MessageType `json:"type"`
	URL   string      `json:"url,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Reload returns a full reload message.
func Reload() Message {
	return Message{Type: TypeReload}
}

// Update returns a targeted update message for url.
func Update(url string) Message {
	return Message{Type: TypeUpdate, URL: url}
}

// Known reports whether the message type is one this package defines.
func (m Message) Known() bool {
	switch m.Type {
	case TypeReload, TypeUpdate, TypeError, TypeClear:
		return true
	}
	return false
}

// Encode marshals msg to its wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses one wire payload. Unknown types decode successfully; only a
// payload whose type cannot be read at all is rejected. The other fields are
// read on a best-effort basis: a url or error that is not a string decodes as
// empty.
func Decode(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var typ string
	field, ok := raw["type"]
	if !ok {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if err := json.Unmarshal(field, &typ); err != nil || typ == "" {
		return Message{}, fmt.Errorf("%w: type is not a string", ErrMalformed)
	}

	return Message{
		Type:  MessageType(typ),
		URL:   stringField(raw, "url"),
		Error: stringField(raw, "error"),
	}, nil
}

func stringField(raw map[string]json.RawMessage, key string) string {
	var s string
	if field, ok := raw[key]; ok {
		_ = json.Unmarshal(field, &s)
	}
	return s
}
