package stream

import (
	"context"
	"errors"
	"sync"

	"chatgraph/agent"
)

// ErrStreamFinished is returned for events emitted after a terminal frame.
var ErrStreamFinished = errors.New("stream already finished")

// FrameSender is the part of Transport the translator depends on.
type FrameSender interface {
	Send(ctx context.Context, f Frame) error
}

// Translator maps execution events one to one onto frames. It implements
// agent.Sink so the scheduler can push events straight into the stream.
type Translator struct {
	out     FrameSender
	onFrame func(FrameType)

	mu        sync.Mutex
	connected bool
	finished  bool
}

// NewTranslator creates a translator writing to out. onFrame, if not nil, is
// called for every frame handed to out.
func NewTranslator(out FrameSender, onFrame func(FrameType)) *Translator {
	return &Translator{out: out, onFrame: onFrame}
}

// Connected sends the connected frame. It must be called before the
// execution starts; repeated calls are no-ops.
func (t *Translator) Connected(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()
	return t.send(ctx, Frame{Type: FrameConnected})
}

// Finished reports whether a done or error frame was produced.
func (t *Translator) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Emit implements agent.Sink.
func (t *Translator) Emit(ctx context.Context, ev agent.Event) error {
	frame, ok := FrameFor(ev)
	if !ok {
		return nil
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return ErrStreamFinished
	}
	if !t.connected {
		t.connected = true
		t.mu.Unlock()
		if err := t.send(ctx, Frame{Type: FrameConnected}); err != nil {
			return err
		}
		t.mu.Lock()
	}
	if frame.Terminal() {
		t.finished = true
	}
	t.mu.Unlock()

	return t.send(ctx, frame)
}

func (t *Translator) send(ctx context.Context, f Frame) error {
	if err := t.out.Send(ctx, f); err != nil {
		return err
	}
	if t.onFrame != nil {
		t.onFrame(f.Type)
	}
	return nil
}

// FrameFor returns the frame for an execution event.
func FrameFor(ev agent.Event) (Frame, bool) {
	switch e := ev.(type) {
	case agent.ModelTokenEvent:
		return Frame{Type: FrameToken, Token: e.Text}, true
	case agent.ToolStartEvent:
		return Frame{Type: FrameToolStart, Tool: e.ToolName, Input: e.Input}, true
	case agent.ToolEndEvent:
		return Frame{Type: FrameToolEnd, Tool: e.ToolName, Output: e.Output}, true
	case agent.TerminalEvent:
		return Frame{Type: FrameDone}, true
	case agent.FailureEvent:
		return Frame{Type: FrameError, Error: e.Reason}, true
	}
	return Frame{}, false
}
