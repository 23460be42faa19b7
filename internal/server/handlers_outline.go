package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkfold/pilot/backend/internal/access"
)

type createBookPayload struct {
	Title string `json:"title"`
}

type createNodePayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

type updateNodePayload struct {
	Title *string `json:"title"`
	Text  *string `json:"text"`
	Order *int    `json:"order"`
}

type contentPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	var request createBookPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tree, err := h.outline.CreateBook(c.Request.Context(), h.userID(c), request.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusCreated, tree)
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	userID := h.userID(c)
	sharedIDs, err := h.policy.SharedBookIDs(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	books, err := h.outline.ListBooks(c.Request.Context(), userID, sharedIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (h *httpHandler) handleBookTree(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	if _, err := h.policy.RequireAccess(c.Request.Context(), bookID, h.userID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	if tree, ok := h.treeCache.Get(c.Request.Context(), bookID); ok {
		c.JSON(http.StatusOK, tree)
		return
	}
	tree, err := h.outline.BookTree(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	if _, err := h.policy.RequireOwner(c.Request.Context(), bookID, h.userID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.outline.DeleteBook(c.Request.Context(), bookID); err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Invalidate(c.Request.Context(), bookID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateChapter(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	var request createNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := h.policy.RequireEdit(c.Request.Context(), bookID, h.userID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	tree, err := h.outline.CreateChapter(c.Request.Context(), bookID, request.Title, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusCreated, tree)
}

func (h *httpHandler) handleUpdateChapter(c *gin.Context) {
	chapterID, ok := uintParam(c, "chapterID")
	if !ok {
		return
	}
	var request updateNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForChapter, chapterID) {
		return
	}
	tree, err := h.outline.UpdateChapter(c.Request.Context(), chapterID, request.Title, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleDeleteChapter(c *gin.Context) {
	chapterID, ok := uintParam(c, "chapterID")
	if !ok {
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForChapter, chapterID) {
		return
	}
	tree, err := h.outline.DeleteChapter(c.Request.Context(), chapterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleCreateSection(c *gin.Context) {
	chapterID, ok := uintParam(c, "chapterID")
	if !ok {
		return
	}
	var request createNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForChapter, chapterID) {
		return
	}
	tree, err := h.outline.CreateSection(c.Request.Context(), chapterID, request.Title, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusCreated, tree)
}

func (h *httpHandler) handleUpdateSection(c *gin.Context) {
	sectionID, ok := uintParam(c, "sectionID")
	if !ok {
		return
	}
	var request updateNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForSection, sectionID) {
		return
	}
	tree, err := h.outline.UpdateSection(c.Request.Context(), sectionID, request.Title, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleDeleteSection(c *gin.Context) {
	sectionID, ok := uintParam(c, "sectionID")
	if !ok {
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForSection, sectionID) {
		return
	}
	tree, err := h.outline.DeleteSection(c.Request.Context(), sectionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleCreateTalkingPoint(c *gin.Context) {
	sectionID, ok := uintParam(c, "sectionID")
	if !ok {
		return
	}
	var request createNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForSection, sectionID) {
		return
	}
	text := request.Text
	if strings.TrimSpace(text) == "" {
		text = request.Title
	}
	tree, err := h.outline.CreateTalkingPoint(c.Request.Context(), sectionID, text, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusCreated, tree)
}

func (h *httpHandler) handleUpdateTalkingPoint(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var request updateNodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForTalkingPoint, talkingPointID) {
		return
	}
	tree, err := h.outline.UpdateTalkingPoint(c.Request.Context(), talkingPointID, request.Text, request.Order)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleDeleteTalkingPoint(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForTalkingPoint, talkingPointID) {
		return
	}
	tree, err := h.outline.DeleteTalkingPoint(c.Request.Context(), talkingPointID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

func (h *httpHandler) handleUpdateContent(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var request contentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireEditOn(c, h.outline.BookIDForTalkingPoint, talkingPointID) {
		return
	}
	tree, err := h.outline.UpdateTalkingPointContent(c.Request.Context(), talkingPointID, request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}

type invitePayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleListCollaborators(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	grants, err := h.policy.ListGrants(c.Request.Context(), bookID, h.userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": grants})
}

func (h *httpHandler) handleInviteCollaborator(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, ok := access.ParseRole(request.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	grant, err := h.policy.Invite(c.Request.Context(), h.userID(c), bookID, request.UserID, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	targetUserID := c.Param("userID")
	if err := h.policy.Remove(c.Request.Context(), h.userID(c), bookID, targetUserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireEditOn resolves the owning book through the given resolver and
// enforces edit rights. It writes the error response itself on failure.
func (h *httpHandler) requireEditOn(c *gin.Context, resolve func(ctx context.Context, id uint) (uint, error), id uint) bool {
	bookID, err := resolve(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if _, err := h.policy.RequireEdit(c.Request.Context(), bookID, h.userID(c)); err != nil {
		h.respondError(c, err)
		return false
	}
	return true
}
