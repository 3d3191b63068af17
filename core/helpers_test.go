package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatgraph/auth"
	"chatgraph/checkpoint"
	"chatgraph/store"
	"chatgraph/stream"
	"chatgraph/tools"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedTurn struct {
	chunks  []string
	content string
	calls   []llms.ToolCall
	err     error
	// wait blocks until the request context is done.
	wait bool
}

// scriptedModel replays turns in order. Requests past the script fail.
type scriptedModel struct {
	mu    sync.Mutex
	turns []scriptedTurn
	next  int
}

func newScriptedModel(turns ...scriptedTurn) *scriptedModel {
	return &scriptedModel{turns: turns}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	idx := m.next
	m.next++
	m.mu.Unlock()
	if idx >= len(m.turns) {
		return nil, errors.New("script exhausted")
	}

	turn := m.turns[idx]
	if turn.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if turn.err != nil {
		return nil, turn.err
	}
	for _, chunk := range turn.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	content := turn.content
	if content == "" {
		content = strings.Join(turn.chunks, "")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content, ToolCalls: turn.calls}},
	}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

const testSecret = "test-secret"

type testServer struct {
	echo   *echo.Echo
	server *Server
	engine *Engine
	config *Config
}

type serverOption func(*Config, *auth.Authenticator) *auth.Authenticator

func withAuth() serverOption {
	return func(_ *Config, _ *auth.Authenticator) *auth.Authenticator {
		return auth.NewAuthenticator(auth.NewJWTVerifier([]byte(testSecret)))
	}
}

func withConfig(fn func(*Config)) serverOption {
	return func(c *Config, a *auth.Authenticator) *auth.Authenticator {
		fn(c)
		return a
	}
}

func newTestServer(t *testing.T, model llms.Model, opts ...serverOption) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	config := DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "chat.db")
	config.RequestTimeout = 5 * time.Second
	config.ToolTimeout = time.Second
	config.ToolWorkers = 4
	authenticator := auth.NewAuthenticator(nil)
	for _, opt := range opts {
		authenticator = opt(config, authenticator)
	}
	require.NoError(t, config.Validate())

	history, err := store.NewSQLiteStore(config.DatabasePath, logger)
	require.NoError(t, err)
	checkpoints := checkpoint.NewMemoryStore()
	t.Cleanup(func() {
		_ = checkpoints.Close()
		_ = history.Close()
	})

	engine, err := NewEngine(config, logger, Dependencies{
		Model:       model,
		Tools:       tools.Builtin(),
		Checkpoints: checkpoints,
		History:     history,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	server := NewServer(config, logger, engine, authenticator)
	e := echo.New()
	server.RegisterRoutes(e)
	return &testServer{echo: e, server: server, engine: engine, config: config}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, user string) string {
	t.Helper()
	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate(user, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func parseFrames(t *testing.T, body string) []stream.Frame {
	t.Helper()
	var frames []stream.Frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, stream.DataPrefix), "unexpected line %q", line)
		var f stream.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, stream.DataPrefix)), &f))
		frames = append(frames, f)
	}
	return frames
}

func frameTypes(frames []stream.Frame) []stream.FrameType {
	out := make([]stream.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
