// Package dashboard serves the read-only admin API over the exchange state.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"github.com/gin-gonic/gin"
)

// Source is the exchange state the admin API reads.
type Source interface {
	Stats(ctx context.Context) (exchange.Stats, error)
	Active(ctx context.Context) ([]*santa.Session, error)
	Get(ctx context.Context, chatID int64) (*santa.Session, error)
	History(ctx context.Context, chatID int64) ([]*santa.Session, error)
}

// StartOpts holds configuration for the admin server.
type StartOpts struct {
	Source Source
	Port   int
	// Token, when set, must be presented as a bearer token on /api routes.
	Token  string
	Logger *slog.Logger
	Out    io.Writer
}

// Start launches the admin HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("dashboard: source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dashboard")

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.Source, opts.Token, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Admin API listening on http://localhost:%d\n", opts.Port)
	}
	logger.Info("admin api started", "port", opts.Port, "auth", opts.Token != "")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine serving the admin API.
func NewRouter(src Source, token string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, src, token, logger)
	return router
}
