package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/chat"
	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
	"chat-gateway/internal/translator"
	"chat-gateway/internal/usage"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 90 * time.Second
	idleTimeout         = 120 * time.Second
	rateLimiterExpiry   = 3 * time.Minute

	serviceName    = "chat-gateway"
	serviceVersion = "0.1.0"
)

// Chat runs completions for an authenticated user.
type Chat interface {
	Complete(ctx context.Context, userID string, req models.ChatRequest) (*models.ChatResponse, error)
	OpenStream(ctx context.Context, userID string, req models.ChatRequest) (*chat.StreamSession, error)
}

// History reads persisted conversations.
type History interface {
	Ping(ctx context.Context) error
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	Conversation(ctx context.Context, userID, conversationID string) (models.Conversation, bool, error)
	Messages(ctx context.Context, conversationID string) ([]models.StoredMessage, error)
}

// QuotaChecker reports a user's allowance for the current month.
type QuotaChecker interface {
	Check(ctx context.Context, userID string) models.QuotaInfo
}

// Dependencies are the collaborators the HTTP layer delegates to.
type Dependencies struct {
	Chat     Chat
	History  History
	Quota    QuotaChecker
	Usage    usage.Summarizer
	Verifier *auth.Verifier
	Logger   *slog.Logger
	Now      func() time.Time // defaults to time.Now
}

type Server struct {
	cfg      config.Config
	chat     Chat
	history  History
	quota    QuotaChecker
	usage    usage.Summarizer
	verifier *auth.Verifier
	logger   *slog.Logger
	now      func() time.Time
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Dependencies) (*Server, error) {
	switch {
	case deps.Chat == nil:
		return nil, errors.New("chat service must not be nil")
	case deps.History == nil:
		return nil, errors.New("history store must not be nil")
	case deps.Quota == nil:
		return nil, errors.New("quota checker must not be nil")
	case deps.Usage == nil:
		return nil, errors.New("usage summarizer must not be nil")
	case deps.Verifier == nil:
		return nil, errors.New("token verifier must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		chat:     deps.Chat,
		history:  deps.History,
		quota:    deps.Quota,
		usage:    deps.Usage,
		verifier: deps.Verifier,
		logger:   deps.Logger,
		now:      deps.Now,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.handleError
	srv.app = e

	srv.registerMiddleware()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerMiddleware() {
	e := s.app
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if len(s.cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.cfg.Server.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			AllowCredentials: true,
		}))
	}
	if s.cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(s.cfg.Server.BodyLimit))
	}
	if s.cfg.Server.RateLimit > 0 {
		burst := s.cfg.Server.RateBurst
		if burst <= 0 {
			burst = int(s.cfg.Server.RateLimit) + 1
		}
		store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.cfg.Server.RateLimit),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		})
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool { return isHealthCheck(c.Path()) },
			Store:   store,
		}))
	}
}

func (s *Server) registerRoutes() {
	requireAuth := auth.Middleware(s.verifier)

	s.app.GET("/", s.handleRoot)

	api := s.app.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.POST("/chat", s.handleChat, requireAuth)
	api.GET("/conversations", s.handleConversations, requireAuth)
	api.GET("/conversations/:id/messages", s.handleMessages, requireAuth)
	api.GET("/quota", s.handleQuota, requireAuth)
	api.GET("/usage", s.handleUsage, requireAuth)
}

func isHealthCheck(path string) bool {
	return path == "/api/v1/health" || path == "/api/v1/ready"
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "AI chat gateway",
		"version": serviceVersion,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func (s *Server) handleReady(c echo.Context) error {
	if err := s.history.Ping(c.Request().Context()); err != nil {
		s.logger.Error("readiness check failed", slog.Any("error", err))
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "database is not reachable",
			Code:    codeNotReady,
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready", "service": serviceName})
}

func (s *Server) handleChat(c echo.Context) error {
	var body translator.ChatRequest
	if err := decodeRequestBody(c, &body); err != nil {
		return err
	}

	ctx := c.Request().Context()
	userID := auth.UserID(c)
	req := body.ToModel()

	if !req.Stream {
		resp, err := s.chat.Complete(ctx, userID, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}

	// Admission failures surface as JSON errors; once the session is open
	// every outcome is reported in-band.
	session, err := s.chat.OpenStream(ctx, userID, req)
	if err != nil {
		return err
	}
	return s.writeStream(c, session)
}

func (s *Server) handleConversations(c echo.Context) error {
	convs, err := s.history.ListConversations(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return c.JSON(http.StatusOK, translator.ConversationList{Conversations: convs})
}

func (s *Server) handleMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("id")

	_, ok, err := s.history.Conversation(ctx, auth.UserID(c), conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return chat.ErrConversationNotFound
	}

	msgs, err := s.history.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.StoredMessage{}
	}
	return c.JSON(http.StatusOK, translator.MessageList{Messages: msgs})
}

func (s *Server) handleQuota(c echo.Context) error {
	return c.JSON(http.StatusOK, s.quota.Check(c.Request().Context(), auth.UserID(c)))
}

func (s *Server) handleUsage(c echo.Context) error {
	since := usage.MonthStart(s.now())
	records, err := s.usage.UsageSince(c.Request().Context(), auth.UserID(c), since)
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	return c.JSON(http.StatusOK, usage.Summarize(records))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		// The body limit middleware reports chunked bodies over the limit from Read.
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Code:    codeValidation,
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Code:    codeValidation,
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Code:    codeValidation,
		}
	}
	return nil
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("chat-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /api/v1/health")
	fmt.Println("  GET  /api/v1/ready")
	fmt.Println("  POST /api/v1/chat")
	fmt.Println("  GET  /api/v1/conversations")
	fmt.Println("  GET  /api/v1/conversations/:id/messages")
	fmt.Println("  GET  /api/v1/quota")
	fmt.Println("  GET  /api/v1/usage")
	fmt.Printf("Example:\n  curl -N http://%s:%d/api/v1/chat -H 'Authorization: Bearer $TOKEN' -H 'Content-Type: application/json' -d '{\"provider\":\"claude\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
