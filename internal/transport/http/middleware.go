package http

import (
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fitbook/backend/internal/auth"
	"fitbook/backend/internal/domain"
)

const (
	contextRequestID = "requestID"
	contextRequester = "requester"

	headerRequestID = "X-Request-ID"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(contextRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		args := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", c.GetString(contextRequestID)),
			slog.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Error("http request", args...)
		case status >= 400:
			log.Warn("http request", args...)
		default:
			log.Info("http request", args...)
		}
	}
}

type tokenParser interface {
	Parse(raw string) (domain.Requester, error)
}

// authenticate resolves the bearer token, when one is sent, into the
// requester. Requests without a token continue anonymously.
func authenticate(tokens tokenParser, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		raw, err := auth.BearerToken(header)
		if err != nil {
			writeErrorBody(c, nethttp.StatusUnauthorized, ErrorBody{Code: "invalid_authorization_header", Message: "Authorization header must be a bearer token."})
			return
		}
		req, err := tokens.Parse(raw)
		if err != nil {
			log.Info("token rejected", slog.Any("err", err), slog.String("request_id", c.GetString(contextRequestID)))
			writeErrorBody(c, nethttp.StatusUnauthorized, ErrorBody{Code: "invalid_token", Message: "The bearer token is invalid or expired."})
			return
		}
		c.Set(contextRequester, req)
		c.Next()
	}
}

func requireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requester(c).Authenticated() {
			writeErrorBody(c, nethttp.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Authentication required."})
			return
		}
		c.Next()
	}
}

func requester(c *gin.Context) domain.Requester {
	v, ok := c.Get(contextRequester)
	if !ok {
		return domain.Requester{}
	}
	req, _ := v.(domain.Requester)
	return req
}
