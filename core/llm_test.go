package core

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "The answer is 4.", "The answer is 4."},
		{"think block", "<think>\nlet me add\n</think>\n\nThe answer is 4.", "The answer is 4."},
		{"unterminated think", "Sure.<think>still pondering", "Sure."},
		{"collapses blank lines", "one\n\n\n\ntwo", "one\n\ntwo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanResponse(tt.in))
		})
	}
}

func TestThinkFilter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"no tags", []string{"Hel", "lo"}, "Hello"},
		{"whole block", []string{"<think>hmm</think>", "\n\nHi"}, "Hi"},
		{"tags split across chunks", []string{"<thi", "nk>sec", "ret</th", "ink>Ans", "wer"}, "Answer"},
		{"lone angle bracket", []string{"a <", " b"}, "a < b"},
		{"tag prefix at the end", []string{"x <thi"}, "x <thi"},
		{"never closed", []string{"ok ", "<think>lost"}, "ok "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &thinkFilter{}
			var out strings.Builder
			for _, c := range tt.chunks {
				out.WriteString(f.Write(c))
			}
			out.WriteString(f.Flush())
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestPartialSuffix(t *testing.T) {
	assert.Equal(t, "<th", partialSuffix("abc<th", "<think>"))
	assert.Equal(t, "", partialSuffix("abc", "<think>"))
	assert.Equal(t, "", partialSuffix("<think>", "<think>"))
}

func TestModelWrapperFiltersStreamAndResponse(t *testing.T) {
	model := newScriptedModel(scriptedTurn{chunks: []string{"<think>plan", "ning</think>\n", "Four", "."}})
	logger, _ := test.NewNullLogger()
	wrapper := NewModelWrapper(model, DefaultConfig(), logger)

	var streamed strings.Builder
	resp, err := wrapper.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "2+2?")},
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		}))

	require.NoError(t, err)
	assert.Equal(t, "Four.", streamed.String())
	assert.Equal(t, "Four.", resp.Choices[0].Content)
}

func TestModelWrapperCall(t *testing.T) {
	model := newScriptedModel(scriptedTurn{content: "<think>x</think>pong"})
	logger, _ := test.NewNullLogger()

	out, err := NewModelWrapper(model, DefaultConfig(), logger).Call(context.Background(), "ping")

	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestTruncateForLog(t *testing.T) {
	config := DefaultConfig()
	config.LogTruncateLength = 5
	logger, _ := test.NewNullLogger()
	w := NewModelWrapper(nil, config, logger)

	assert.Equal(t, "abc", w.truncateForLog("abc"))
	assert.Equal(t, "abcde...", w.truncateForLog("abcdefgh"))
}

func TestNewModelRejectsUnknownProvider(t *testing.T) {
	config := DefaultConfig()
	config.LLMProvider = "clippy"
	_, err := NewModel(context.Background(), config)
	assert.Error(t, err)
}
