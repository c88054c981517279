package dashboard

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all admin routes on the Gin router.
func registerRoutes(router *gin.Engine, src Source, token string, logger *slog.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if token != "" {
		api.Use(requireToken(token))
	}
	api.GET("/ongoing", handleOngoing(src, logger))
	api.GET("/sessions", handleSessions(src, logger))
	api.GET("/sessions/:chat", handleSession(src, logger))
	api.GET("/archive/:chat", handleArchive(src, logger))
}

// requireToken rejects requests without the matching bearer token.
func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func handleOngoing(src Source, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := src.Stats(c.Request.Context())
		if err != nil {
			internalError(c, logger, "stats", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleSessions(src Source, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		active, err := src.Active(c.Request.Context())
		if err != nil {
			internalError(c, logger, "list active", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summarize(active)})
	}
}

func handleSession(src Source, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID, ok := chatParam(c)
		if !ok {
			return
		}
		s, err := src.Get(c.Request.Context(), chatID)
		if errors.Is(err, exchange.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active exchange"})
			return
		}
		if err != nil {
			internalError(c, logger, "get session", err)
			return
		}
		c.JSON(http.StatusOK, detail(s))
	}
}

func handleArchive(src Source, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID, ok := chatParam(c)
		if !ok {
			return
		}
		history, err := src.History(c.Request.Context(), chatID)
		if err != nil {
			internalError(c, logger, "list archive", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "sessions": summarize(history)})
	}
}

func chatParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("chat"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat must be an integer id"})
		return 0, false
	}
	return id, true
}

func internalError(c *gin.Context, logger *slog.Logger, op string, err error) {
	logger.Error("admin api query failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
