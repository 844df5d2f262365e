package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sitetrail/leadsync/internal/importer"
	"github.com/sitetrail/leadsync/internal/leadrebel"
	"go.uber.org/zap"
)

const subjectContextKey = "leadsync_subject"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingSyncService    = errors.New("sync service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks bearer credentials on the sync endpoints.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// SyncService exposes the two synchronization operations.
type SyncService interface {
	ImportSessions(ctx context.Context) (importer.Result, error)
	MatchExistingLeads(ctx context.Context) (importer.Result, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenValidator TokenValidator
	SyncService    SyncService
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync service.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenValidator,
		sync:   deps.SyncService,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/sync")
	protected.Use(handler.authorizeRequest)
	protected.POST("/import", handler.handleImport)
	protected.POST("/match", handler.handleMatch)

	return router, nil
}

type httpHandler struct {
	tokens TokenValidator
	sync   SyncService
	logger *zap.Logger
}

type syncResponsePayload struct {
	Sessions int    `json:"sessions"`
	Message  string `json:"message"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleImport(c *gin.Context) {
	result, err := h.sync.ImportSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("session import failed", zap.Error(err))
		c.JSON(upstreamStatus(err), gin.H{"error": "import_failed"})
		return
	}
	c.JSON(http.StatusOK, syncResponsePayload{Sessions: result.Sessions, Message: result.Message})
}

func (h *httpHandler) handleMatch(c *gin.Context) {
	result, err := h.sync.MatchExistingLeads(c.Request.Context())
	if err != nil {
		h.logger.Error("lead matching failed", zap.Error(err))
		c.JSON(upstreamStatus(err), gin.H{"error": "match_failed"})
		return
	}
	c.JSON(http.StatusOK, syncResponsePayload{Sessions: result.Sessions, Message: result.Message})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

// upstreamStatus maps remote API failures onto 502 so schedulers can
// tell a LeadRebel outage from a fault in this service.
func upstreamStatus(err error) int {
	if errors.Is(err, leadrebel.ErrAPI) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
