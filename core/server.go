/*
This file implements the HTTP surface of the chat service.

Routes:
  - POST   /chat/stream                  SSE stream of one execution
  - POST   /chat                         same execution, answered as JSON
  - POST   /stop                         stop a running execution
  - GET    /tools                        tools offered to the model
  - GET    /threads/:threadId            thread record and checkpoint
  - GET    /threads/:threadId/messages   persisted chat history
  - DELETE /threads/:threadId            forget a thread
  - GET    /status                       health and runtime statistics
  - GET    /metrics                      Prometheus metrics

Everything except /status and /metrics sits behind the authenticator.
Failures detected before the first frame are plain JSON errors; once a
stream is open they are reported as an error frame.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatgraph/agent"
	"chatgraph/auth"
	"chatgraph/checkpoint"
	"chatgraph/store"
	"chatgraph/stream"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Version is reported by the status endpoint.
var Version = "dev"

// Server holds the HTTP handlers and their shared state.
type Server struct {
	engine        *Engine
	auth          *auth.Authenticator
	cancelManager *CancelManager
	config        *Config
	logger        *logrus.Logger
	slots         chan struct{}
	startedAt     time.Time
}

// NewServer creates a server over an initialized engine.
func NewServer(config *Config, logger *logrus.Logger, engine *Engine, authenticator *auth.Authenticator) *Server {
	if authenticator == nil {
		authenticator = auth.NewAuthenticator(nil)
	}
	slots := config.MaxConcurrentRequests
	if slots <= 0 {
		slots = 1
	}
	logger.WithFields(logrus.Fields{
		"authEnabled":           authenticator.Enabled(),
		"maxConcurrentRequests": slots,
	}).Info("Server initialized")

	return &Server{
		engine:        engine,
		auth:          authenticator,
		cancelManager: NewCancelManager(),
		config:        config,
		logger:        logger,
		slots:         make(chan struct{}, slots),
		startedAt:     time.Now(),
	}
}

// RegisterRoutes registers all HTTP routes for the server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.GET("/status", s.handleStatus)
	e.GET("/metrics", echo.WrapHandler(s.engine.Metrics().Handler()))

	api := e.Group("", s.auth.Middleware())
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleStreamChat)
	api.POST("/stop", s.handleStopExecution)
	api.GET("/tools", s.handleTools)
	api.GET("/threads/:threadId", s.handleGetThread)
	api.GET("/threads/:threadId/messages", s.handleThreadMessages)
	api.DELETE("/threads/:threadId", s.handleDeleteThread)

	s.logger.Info("Routes registered successfully")
}

// Shutdown stops every running execution. Their streams end with an error
// frame and their checkpoints stay consistent.
func (s *Server) Shutdown() {
	if n := s.cancelManager.CancelAll(); n > 0 {
		s.logger.WithField("executions", n).Info("Cancelled running executions")
	}
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

// acquire claims an execution slot without waiting.
func (s *Server) acquire() (func(), bool) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, true
	default:
		return nil, false
	}
}

func userOf(c echo.Context) string {
	if userID, ok := auth.UserFromContext(c.Request().Context()); ok {
		return userID
	}
	return auth.AnonymousUser
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}

// prepareStatus maps a Prepare failure to an HTTP status.
func prepareStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, ErrInvalidThreadID):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, checkpoint.ErrThreadBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// resultStatus maps a failed execution to an HTTP status for /chat.
func resultStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrExecutionCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, agent.ErrMaxCyclesExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agent.ErrModelInvocation):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// begin binds the request, claims a slot and prepares the turn. On failure
// the response has already been written and the returned error is the
// handler's result.
func (s *Server) begin(c echo.Context, requestLogger *logrus.Entry) (*Turn, func(), error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return nil, nil, errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	release, ok := s.acquire()
	if !ok {
		requestLogger.Warn("Concurrency limit reached, rejecting request")
		return nil, nil, errorJSON(c, http.StatusServiceUnavailable, "Server is busy, try again later")
	}

	userID := userOf(c)
	turn, err := s.engine.Prepare(c.Request().Context(), userID, req)
	if err != nil {
		release()
		status := prepareStatus(err)
		entry := requestLogger.WithError(err).WithField("threadId", req.ThreadID)
		if status == http.StatusInternalServerError {
			entry.Error("Failed to prepare execution")
			return nil, nil, errorJSON(c, status, "Failed to start execution")
		}
		entry.Warn("Execution rejected")
		return nil, nil, errorJSON(c, status, err.Error())
	}

	requestLogger.WithFields(logrus.Fields{
		"threadId":      turn.ThreadID,
		"executionId":   turn.ExecutionID,
		"historyLength": len(req.History),
		"messageLength": len(req.NewMessage),
	}).Info("Execution prepared")
	return turn, release, nil
}

// track creates the execution context, bounded by RequestTimeout and
// detached from the HTTP request, and registers it for /stop.
func (s *Server) track(turn *Turn) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	s.cancelManager.AddExecution(Execution{
		ID:       turn.ExecutionID,
		ThreadID: turn.ThreadID,
		UserID:   turn.UserID,
	}, cancel)
	return ctx, func() {
		s.cancelManager.RemoveExecution(turn.ExecutionID)
		cancel()
	}
}

func (s *Server) handleStreamChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat/stream")
	requestLogger.Info("Received streaming chat request")

	turn, release, err := s.begin(c, requestLogger)
	if turn == nil {
		return err
	}
	defer release()

	ctx, untrack := s.track(turn)
	defer untrack()

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Execution-ID", turn.ExecutionID)
	header.Set("X-Thread-ID", turn.ThreadID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	transport := stream.NewTransport(res,
		stream.WithHighWaterMark(s.config.StreamHighWaterMark),
		stream.WithTransportLogger(requestLogger),
	)
	// A dropped connection closes the transport; the next frame then fails
	// and the scheduler stops at that boundary.
	stop := context.AfterFunc(c.Request().Context(), func() { _ = transport.Close() })
	defer stop()
	defer func() {
		if err := transport.Close(); err != nil {
			requestLogger.WithError(err).Debug("Stream closed with write error")
		}
	}()

	result := turn.Run(ctx, transport)

	requestLogger.WithFields(logrus.Fields{
		"threadId":      turn.ThreadID,
		"executionId":   turn.ExecutionID,
		"state":         result.State,
		"cycles":        result.Cycles,
		"disconnected":  result.Disconnected,
		"framesWritten": transport.Written(),
		"executionTime": result.Duration,
	}).Info("Streaming request completed")
	return nil
}

func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat")
	requestLogger.Info("Received chat request")

	turn, release, err := s.begin(c, requestLogger)
	if turn == nil {
		return err
	}
	defer release()

	ctx, untrack := s.track(turn)
	defer untrack()

	c.Response().Header().Set("X-Execution-ID", turn.ExecutionID)
	recorder := &stream.Recorder{}
	result := turn.Run(ctx, recorder)

	if result.State != agent.StateDone || result.Final == nil {
		status := resultStatus(result.Err)
		requestLogger.WithError(result.Err).WithFields(logrus.Fields{
			"threadId": turn.ThreadID,
			"status":   status,
			"cycles":   result.Cycles,
		}).Warn("Chat request failed")
		return errorJSON(c, status, result.Err.Error())
	}

	requestLogger.WithFields(logrus.Fields{
		"threadId":       turn.ThreadID,
		"cycles":         result.Cycles,
		"responseLength": len(result.Final.Content),
		"executionTime":  result.Duration,
	}).Info("Chat request completed")

	return c.JSON(http.StatusOK, ChatResponse{
		Response:    result.Final.Content,
		ThreadID:    turn.ThreadID,
		ExecutionID: turn.ExecutionID,
		Cycles:      result.Cycles,
	})
}

func (s *Server) handleStopExecution(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/stop")
	requestLogger.Info("Received stop execution request")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse stop request body")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Invalid request format",
		})
	}
	if req.ExecutionID == "" {
		req.ExecutionID = c.Request().Header.Get("X-Execution-ID")
	}
	if req.ExecutionID == "" {
		requestLogger.Warn("Empty execution ID in stop request")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Execution ID is required",
		})
	}

	requestLogger = requestLogger.WithField("executionId", req.ExecutionID)
	if s.cancelManager.CancelExecution(req.ExecutionID, userOf(c)) {
		requestLogger.Info("Execution stopped successfully")
		return c.JSON(http.StatusOK, StopResponse{
			Success: true,
			Message: "Execution stopped successfully",
			Stopped: true,
		})
	}

	requestLogger.Warn("Execution not found or already completed")
	return c.JSON(http.StatusNotFound, StopResponse{
		Success: false,
		Message: "Execution not found or already completed",
	})
}

func (s *Server) handleTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"tools": s.engine.Tools(),
	})
}

// ownedThread loads a thread and checks it belongs to the caller. Unknown
// and foreign threads are reported the same way Prepare reports them.
func (s *Server) ownedThread(c echo.Context) (*store.Thread, int, error) {
	thread, err := s.engine.history.GetThread(c.Request().Context(), c.Param("threadId"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, http.StatusNotFound, err
	case err != nil:
		return nil, http.StatusInternalServerError, err
	case thread.OwnerID != userOf(c):
		return nil, http.StatusForbidden, store.ErrForbidden
	}
	return thread, http.StatusOK, nil
}

func (s *Server) handleGetThread(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/threads/:threadId")

	thread, status, err := s.ownedThread(c)
	if err != nil {
		requestLogger.WithError(err).WithField("threadId", c.Param("threadId")).Debug("Thread lookup failed")
		return errorJSON(c, status, err.Error())
	}

	state, err := s.engine.checkpoints.Load(c.Request().Context(), thread.ID)
	if err != nil {
		requestLogger.WithError(err).WithField("threadId", thread.ID).Error("Failed to load checkpoint")
		return errorJSON(c, http.StatusInternalServerError, "Failed to load thread state")
	}

	return c.JSON(http.StatusOK, ThreadResponse{
		Thread:   thread,
		Messages: state.Messages,
	})
}

func (s *Server) handleThreadMessages(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/threads/:threadId/messages")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	thread, status, err := s.ownedThread(c)
	if err != nil {
		return errorJSON(c, status, err.Error())
	}

	messages, err := s.engine.history.ListMessages(c.Request().Context(), thread.ID, limit)
	if err != nil {
		requestLogger.WithError(err).WithField("threadId", thread.ID).Error("Failed to list messages")
		return errorJSON(c, http.StatusInternalServerError, "Failed to list messages")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threadId": thread.ID,
		"messages": messages,
	})
}

func (s *Server) handleDeleteThread(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/threads/:threadId")
	ctx := c.Request().Context()

	thread, status, err := s.ownedThread(c)
	if err != nil {
		return errorJSON(c, status, err.Error())
	}
	requestLogger = requestLogger.WithField("threadId", thread.ID)

	unlock, err := s.engine.locker.TryLock(ctx, thread.ID, time.Minute)
	if err != nil {
		if errors.Is(err, checkpoint.ErrThreadBusy) {
			return errorJSON(c, http.StatusConflict, err.Error())
		}
		requestLogger.WithError(err).Error("Failed to lock thread")
		return errorJSON(c, http.StatusInternalServerError, "Failed to delete thread")
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			requestLogger.WithError(err).Warn("Failed to release thread lock")
		}
	}()

	if err := s.engine.history.DeleteThread(ctx, thread.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		requestLogger.WithError(err).Error("Failed to delete thread history")
		return errorJSON(c, http.StatusInternalServerError, "Failed to delete thread")
	}
	if err := s.engine.checkpoints.Delete(ctx, thread.ID); err != nil {
		requestLogger.WithError(err).Error("Failed to delete checkpoint")
		return errorJSON(c, http.StatusInternalServerError, "Failed to delete thread")
	}

	requestLogger.Info("Thread deleted")
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"threadId": thread.ID,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/status")
	requestLogger.Debug("Health check requested")

	stats, err := s.engine.checkpoints.Stats(c.Request().Context())
	status := "healthy"
	if err != nil {
		requestLogger.WithError(err).Warn("Checkpoint store unavailable")
		status = "degraded"
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:           status,
		Version:          Version,
		LLMProvider:      s.config.LLMProvider,
		Model:            s.config.ModelName(),
		Tools:            len(s.engine.Tools()),
		ActiveExecutions: s.cancelManager.GetActiveExecutions(),
		Checkpoints:      stats,
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp:        time.Now().UTC(),
	})
}
