// Package server exposes the HTTP surface: gin routes, bearer auth, and the
// mapping from fault kinds to response statuses.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/cache"
	"github.com/inkfold/pilot/backend/internal/collab"
	"github.com/inkfold/pilot/backend/internal/comments"
	"github.com/inkfold/pilot/backend/internal/extract"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/inkfold/pilot/backend/internal/positioning"
	"github.com/inkfold/pilot/backend/internal/suggest"
	"github.com/inkfold/pilot/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "pilot_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingOutline      = errors.New("outline service dependency required")
	errMissingPolicy       = errors.New("access policy dependency required")
	errMissingAuthority    = errors.New("collaboration authority dependency required")
	errMissingLedger       = errors.New("suggestion ledger dependency required")
	errMissingComments     = errors.New("comment service dependency required")
	errMissingPositioning  = errors.New("positioning service dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires every service the router needs. TreeCache and Extractor
// are optional.
type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Outline      *outline.Service
	Policy       *access.Policy
	Authority    *collab.Authority
	Ledger       *suggest.Ledger
	Comments     *comments.Service
	Positioning  *positioning.Service
	TreeCache    *cache.TreeCache
	Extractor    *extract.Extractor
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Outline == nil {
		return nil, errMissingOutline
	}
	if deps.Policy == nil {
		return nil, errMissingPolicy
	}
	if deps.Authority == nil {
		return nil, errMissingAuthority
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Comments == nil {
		return nil, errMissingComments
	}
	if deps.Positioning == nil {
		return nil, errMissingPositioning
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = extract.NewExtractor(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		users:       deps.Users,
		outline:     deps.Outline,
		policy:      deps.Policy,
		authority:   deps.Authority,
		ledger:      deps.Ledger,
		comments:    deps.Comments,
		positioning: deps.Positioning,
		treeCache:   deps.TreeCache,
		extractor:   extractor,
		logger:      logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/books", handler.handleListBooks)
	protected.POST("/books", handler.handleCreateBook)
	protected.GET("/books/:bookID", handler.handleBookTree)
	protected.DELETE("/books/:bookID", handler.handleDeleteBook)

	protected.POST("/books/:bookID/chapters", handler.handleCreateChapter)
	protected.PATCH("/chapters/:chapterID", handler.handleUpdateChapter)
	protected.DELETE("/chapters/:chapterID", handler.handleDeleteChapter)
	protected.POST("/chapters/:chapterID/sections", handler.handleCreateSection)
	protected.PATCH("/sections/:sectionID", handler.handleUpdateSection)
	protected.DELETE("/sections/:sectionID", handler.handleDeleteSection)
	protected.POST("/sections/:sectionID/talking_points", handler.handleCreateTalkingPoint)
	protected.PATCH("/talking_points/:tpID", handler.handleUpdateTalkingPoint)
	protected.DELETE("/talking_points/:tpID", handler.handleDeleteTalkingPoint)
	protected.PUT("/talking_points/:tpID/content", handler.handleUpdateContent)

	protected.GET("/books/:bookID/collaborators", handler.handleListCollaborators)
	protected.POST("/books/:bookID/collaborators", handler.handleInviteCollaborator)
	protected.DELETE("/books/:bookID/collaborators/:userID", handler.handleRemoveCollaborator)

	protected.GET("/talking_points/:tpID/collab/state", handler.handleCollabState)
	protected.POST("/talking_points/:tpID/collab/steps", handler.handleCollabSubmit)
	protected.GET("/talking_points/:tpID/collab/steps", handler.handleCollabStepsSince)

	protected.GET("/talking_points/:tpID/changes", handler.handleListChanges)
	protected.POST("/talking_points/:tpID/changes", handler.handleCreateChange)
	protected.PATCH("/changes/:changeID", handler.handleUpdateChange)
	protected.DELETE("/changes/:changeID", handler.handleDeleteChange)

	protected.GET("/talking_points/:tpID/comments", handler.handleListComments)
	protected.POST("/talking_points/:tpID/comments", handler.handleCreateComment)
	protected.DELETE("/comments/:commentID", handler.handleDeleteComment)

	protected.POST("/books/:bookID/pillars/init", handler.handleInitPillars)
	protected.GET("/books/:bookID/pillars", handler.handleListPillars)
	protected.GET("/pillars/:pillarID/messages", handler.handlePillarMessages)
	protected.POST("/pillars/:pillarID/chat", handler.handlePillarChat)
	protected.POST("/pillars/:pillarID/complete", handler.handlePillarComplete)
	protected.POST("/pillars/:pillarID/reset", handler.handlePillarReset)
	protected.POST("/books/:bookID/outline", handler.handleGenerateOutline)

	protected.POST("/extract", handler.handleExtract)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	users       *users.Service
	outline     *outline.Service
	policy      *access.Policy
	authority   *collab.Authority
	ledger      *suggest.Ledger
	comments    *comments.Service
	positioning *positioning.Service
	treeCache   *cache.TreeCache
	extractor   *extract.Extractor
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// respondError maps the fault taxonomy to HTTP statuses and attaches the
// contextual fields clients depend on.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindForbidden:
		status = http.StatusForbidden
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindInvalid:
		status = http.StatusBadRequest
	case fault.KindUpstream:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	body := gin.H{"error": fault.CodeOf(err)}
	var versionConflict *collab.VersionConflictError
	if errors.As(err, &versionConflict) {
		body["current_version"] = versionConflict.CurrentVersion
	}
	var gate *positioning.IncompletePillarsError
	if errors.As(err, &gate) {
		body["incomplete_pillars"] = gate.Names
	}
	c.JSON(status, body)
}

func (h *httpHandler) userID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return uint(value), true
}

type loginRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.EnsureAccount(c.Request.Context(), request.Email, request.DisplayName)
	if err != nil {
		if errors.Is(err, users.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      account.ID,
	})
}

func (h *httpHandler) handleExtract(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	defer file.Close()
	c.JSON(http.StatusOK, gin.H{"text": h.extractor.Text(header.Filename, file)})
}
