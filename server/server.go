// Package server exposes the entitlement engine over HTTP using gin.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ineyio/creditgate"
)

// Headers read by HeaderIdentity.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserEmail   = "X-User-Email"
	HeaderDisplayName = "X-User-Name"
)

const identityKey = "creditgate.identity"

// IdentityFunc extracts the signed-in user from a request. It reports false
// when the request is unauthenticated.
type IdentityFunc func(c *gin.Context) (creditgate.Identity, bool)

// HeaderIdentity trusts identity headers set by an upstream auth proxy.
func HeaderIdentity(c *gin.Context) (creditgate.Identity, bool) {
	id := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if id == "" {
		return creditgate.Identity{}, false
	}
	return creditgate.Identity{
		UserID:      id,
		Email:       strings.TrimSpace(c.GetHeader(HeaderUserEmail)),
		DisplayName: strings.TrimSpace(c.GetHeader(HeaderDisplayName)),
	}, true
}

// Server serves the entitlement HTTP API.
type Server struct {
	gate     *creditgate.Gate
	ents     *creditgate.Entitlements
	identity IdentityFunc
	origins  []string
	logger   *slog.Logger
}

// Option configures Server.
type Option func(*Server)

// WithIdentity sets how requests are authenticated (default HeaderIdentity).
func WithIdentity(fn IdentityFunc) Option {
	return func(s *Server) { s.identity = fn }
}

// WithAllowOrigins sets the CORS origins (default "*").
func WithAllowOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server around gate.
func New(gate *creditgate.Gate, opts ...Option) *Server {
	s := &Server{
		gate:     gate,
		ents:     gate.Entitlements(),
		identity: HeaderIdentity,
		origins:  []string{"*"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: s.origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization",
			HeaderUserID, HeaderUserEmail, HeaderDisplayName},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/health", s.health)
	router.GET("/api/plans", s.plans)

	protected := router.Group("/api")
	protected.Use(s.requireIdentity())
	protected.POST("/profile", s.ensureProfile)
	protected.GET("/entitlement", s.entitlement)
	protected.POST("/generate", s.generate)
	protected.POST("/payments/success", s.paymentSuccess)

	return router
}

func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.identity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) creditgate.Identity {
	id, _ := c.MustGet(identityKey).(creditgate.Identity)
	return id
}

// respondError maps an error to a status. Anything unexpected is logged and
// hidden behind a generic message.
func (s *Server) respondError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, creditgate.ErrInvalidRequest),
		errors.Is(err, creditgate.ErrUnknownPlan),
		errors.Is(err, creditgate.ErrInvalidAmount):
		status, msg = http.StatusBadRequest, err.Error()
		var ge *creditgate.GateError
		if errors.As(err, &ge) {
			msg = ge.Err.Error()
		}
	case errors.Is(err, creditgate.ErrNotFound):
		status, msg = http.StatusNotFound, "profile not found"
	case errors.Is(err, creditgate.ErrInsufficientMonthlyCredits):
		status, msg = http.StatusPaymentRequired, "monthly credits exhausted"
	case errors.Is(err, creditgate.ErrInsufficientDailyCredits):
		status, msg = http.StatusPaymentRequired, "daily credits exhausted"
	case errors.Is(err, creditgate.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "rate limited, try again later"
	case errors.Is(err, creditgate.ErrProviderUnavailable):
		status, msg = http.StatusServiceUnavailable, "image generation temporarily unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"status", status,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": msg})
}
