// Package stream turns execution events into server-sent event frames and
// writes them to a client connection with bounded buffering.
package stream

import (
	"encoding/json"
	"fmt"
)

// FrameType is the wire name of a frame kind.
type FrameType string

const (
	FrameConnected FrameType = "connected"
	FrameToken     FrameType = "token"
	FrameToolStart FrameType = "tool_start"
	FrameToolEnd   FrameType = "tool_end"
	FrameDone      FrameType = "done"
	FrameError     FrameType = "error"
)

// SSE framing used for every record on the wire.
const (
	DataPrefix    = "data: "
	LineDelimiter = "\n\n"
)

// Frame is one unit of the server-to-client protocol.
type Frame struct {
	Type   FrameType
	Token  string
	Tool   string
	Input  any
	Output any
	Error  string
}

// Terminal reports whether no frame may follow f.
func (f Frame) Terminal() bool {
	return f.Type == FrameDone || f.Type == FrameError
}

// MarshalJSON emits only the payload fields that belong to the frame kind.
func (f Frame) MarshalJSON() ([]byte, error) {
	payload := map[string]any{"type": f.Type}
	switch f.Type {
	case FrameConnected, FrameDone:
	case FrameToken:
		payload["token"] = f.Token
	case FrameToolStart:
		payload["tool"] = f.Tool
		payload["input"] = f.Input
	case FrameToolEnd:
		payload["tool"] = f.Tool
		payload["output"] = f.Output
	case FrameError:
		payload["error"] = f.Error
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return json.Marshal(payload)
}

// UnmarshalJSON reads a frame written by MarshalJSON.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   FrameType       `json:"type"`
		Token  string          `json:"token"`
		Tool   string          `json:"tool"`
		Input  json.RawMessage `json:"input"`
		Output json.RawMessage `json:"output"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Frame{Type: raw.Type, Token: raw.Token, Tool: raw.Tool, Error: raw.Error}
	if len(raw.Input) > 0 {
		if err := json.Unmarshal(raw.Input, &f.Input); err != nil {
			return err
		}
	}
	if len(raw.Output) > 0 {
		if err := json.Unmarshal(raw.Output, &f.Output); err != nil {
			return err
		}
	}
	return nil
}

// Encode renders f as a complete SSE record.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(DataPrefix)+len(data)+len(LineDelimiter))
	buf = append(buf, DataPrefix...)
	buf = append(buf, data...)
	buf = append(buf, LineDelimiter...)
	return buf, nil
}
