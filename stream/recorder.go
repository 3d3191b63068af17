package stream

import (
	"context"
	"strings"
	"sync"
)

// Recorder is an in-memory FrameSender. It backs the non-streaming chat
// endpoint and is handy in tests.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

// Send records f.
func (r *Recorder) Send(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Types returns the recorded frame kinds in order.
func (r *Recorder) Types() []FrameType {
	frames := r.Frames()
	types := make([]FrameType, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

// Text concatenates every token frame.
func (r *Recorder) Text() string {
	var b strings.Builder
	for _, f := range r.Frames() {
		if f.Type == FrameToken {
			b.WriteString(f.Token)
		}
	}
	return b.String()
}
