package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

const (
	// ContextKeyUser is the context key for the authenticated *store.User.
	ContextKeyUser = "user"
	// ContextKeyToken is the context key for the bearer token.
	ContextKeyToken = "token"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware creates a middleware that validates JWT tokens and loads the user.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			logger.Debug().Str("path", c.Request.URL.Path).Msg("missing bearer token")
			respondError(c, http.StatusUnauthorized, "Токен не предоставлен")
			return
		}

		user, err := authService.UserByToken(c.Request.Context(), token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			status, ok := statusFor(err)
			if !ok {
				respondError(c, status, msgInternal)
				return
			}
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set(ContextKeyUser, user)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// currentUser returns the user stored by AuthMiddleware.
func currentUser(c *gin.Context) *store.User {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	user, _ := v.(*store.User)
	return user
}

// LoggerMiddleware creates a middleware that logs HTTP requests and counts them.
func LoggerMiddleware(logger *zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.HTTPRequest(c.Request.Method, route, strconv.Itoa(status))

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

// CORSMiddleware allows cross-origin calls from origin ("*" for any).
func CORSMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := origin
		if allowed == "" {
			allowed = "*"
		}
		if allowed != "*" && c.GetHeader("Origin") != allowed {
			allowed = ""
		}

		if allowed != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if allowed != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware turns panics into a 500 reply.
func RecoveryMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
		respondError(c, http.StatusInternalServerError, msgInternal)
	})
}
