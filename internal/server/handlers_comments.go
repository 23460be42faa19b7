package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createCommentPayload struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parent_id"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	threads, err := h.comments.List(c.Request.Context(), h.userID(c), talkingPointID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	comment, err := h.comments.Create(c.Request.Context(), h.userID(c), talkingPointID, request.ParentID, request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	if err := h.comments.Delete(c.Request.Context(), h.userID(c), c.Param("commentID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
