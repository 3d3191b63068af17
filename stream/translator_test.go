package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chatgraph/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSender struct{ err error }

func (s failingSender) Send(context.Context, Frame) error { return s.err }

func TestTranslatorMapsEventsOneToOne(t *testing.T) {
	rec := &Recorder{}
	var counted []FrameType
	tr := NewTranslator(rec, func(ft FrameType) { counted = append(counted, ft) })
	ctx := context.Background()

	require.NoError(t, tr.Connected(ctx))
	require.NoError(t, tr.Emit(ctx, agent.ModelTokenEvent{Text: "Let me "}))
	require.NoError(t, tr.Emit(ctx, agent.ModelTokenEvent{Text: "check."}))
	require.NoError(t, tr.Emit(ctx, agent.ToolStartEvent{ToolName: "calculator", CallID: "c1", Input: json.RawMessage(`{"input":"2+2"}`)}))
	require.NoError(t, tr.Emit(ctx, agent.ToolEndEvent{ToolName: "calculator", CallID: "c1", Output: "4"}))
	require.NoError(t, tr.Emit(ctx, agent.TerminalEvent{FinalMessage: agent.AssistantMessage("4", nil)}))

	want := []FrameType{FrameConnected, FrameToken, FrameToken, FrameToolStart, FrameToolEnd, FrameDone}
	assert.Equal(t, want, rec.Types())
	assert.Equal(t, want, counted)
	assert.Equal(t, "Let me check.", rec.Text())
	assert.True(t, tr.Finished())

	frames := rec.Frames()
	assert.Equal(t, "calculator", frames[3].Tool)
	assert.Equal(t, json.RawMessage(`{"input":"2+2"}`), frames[3].Input)
	assert.Equal(t, "4", frames[4].Output)
}

func TestTranslatorFailureFrame(t *testing.T) {
	rec := &Recorder{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	require.NoError(t, tr.Connected(ctx))
	require.NoError(t, tr.Emit(ctx, agent.FailureEvent{Reason: "model invocation failed: timeout"}))

	frames := rec.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, FrameError, frames[1].Type)
	assert.Equal(t, "model invocation failed: timeout", frames[1].Error)
}

func TestTranslatorNothingAfterTerminalFrame(t *testing.T) {
	rec := &Recorder{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	require.NoError(t, tr.Emit(ctx, agent.TerminalEvent{}))
	assert.ErrorIs(t, tr.Emit(ctx, agent.ModelTokenEvent{Text: "late"}), ErrStreamFinished)
	assert.ErrorIs(t, tr.Emit(ctx, agent.FailureEvent{Reason: "late"}), ErrStreamFinished)

	assert.Equal(t, []FrameType{FrameConnected, FrameDone}, rec.Types())
}

func TestTranslatorConnectedIsSentOnce(t *testing.T) {
	rec := &Recorder{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	require.NoError(t, tr.Connected(ctx))
	require.NoError(t, tr.Connected(ctx))
	require.NoError(t, tr.Emit(ctx, agent.ModelTokenEvent{Text: "x"}))

	assert.Equal(t, []FrameType{FrameConnected, FrameToken}, rec.Types())
}

func TestTranslatorPropagatesTransportErrors(t *testing.T) {
	closed := errors.Join(agent.ErrTransportClosed, errors.New("client went away"))
	counted := 0
	tr := NewTranslator(failingSender{err: closed}, func(FrameType) { counted++ })

	err := tr.Emit(context.Background(), agent.ModelTokenEvent{Text: "x"})

	assert.ErrorIs(t, err, agent.ErrTransportClosed)
	assert.Zero(t, counted, "frames that were not delivered are not counted")
}

func TestTranslatorOverTransport(t *testing.T) {
	w := &flushWriter{}
	tp := quietTransport(w)
	tr := NewTranslator(tp, nil)
	ctx := context.Background()

	require.NoError(t, tr.Connected(ctx))
	require.NoError(t, tr.Emit(ctx, agent.ModelTokenEvent{Text: "hi"}))
	require.NoError(t, tr.Emit(ctx, agent.TerminalEvent{}))
	require.NoError(t, tp.Close())

	assert.Equal(t,
		"data: {\"type\":\"connected\"}\n\ndata: {\"token\":\"hi\",\"type\":\"token\"}\n\ndata: {\"type\":\"done\"}\n\n",
		w.String())
}
