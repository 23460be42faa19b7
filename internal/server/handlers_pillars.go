package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type pillarChatPayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleInitPillars(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	pillars, err := h.positioning.Initialize(c.Request.Context(), h.userID(c), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pillars": pillars})
}

func (h *httpHandler) handleListPillars(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	pillars, err := h.positioning.ListPillars(c.Request.Context(), h.userID(c), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pillars": pillars})
}

func (h *httpHandler) handlePillarMessages(c *gin.Context) {
	pillarID, ok := uintParam(c, "pillarID")
	if !ok {
		return
	}
	messages, err := h.positioning.Messages(c.Request.Context(), h.userID(c), pillarID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *httpHandler) handlePillarChat(c *gin.Context) {
	pillarID, ok := uintParam(c, "pillarID")
	if !ok {
		return
	}
	var request pillarChatPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.positioning.ChatTurn(c.Request.Context(), h.userID(c), pillarID, request.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": result.Reply, "pillar": result.Pillar})
}

func (h *httpHandler) handlePillarComplete(c *gin.Context) {
	pillarID, ok := uintParam(c, "pillarID")
	if !ok {
		return
	}
	pillar, err := h.positioning.CompleteManually(c.Request.Context(), h.userID(c), pillarID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pillar": pillar})
}

func (h *httpHandler) handlePillarReset(c *gin.Context) {
	pillarID, ok := uintParam(c, "pillarID")
	if !ok {
		return
	}
	pillar, err := h.positioning.Reset(c.Request.Context(), h.userID(c), pillarID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pillar": pillar})
}

func (h *httpHandler) handleGenerateOutline(c *gin.Context) {
	bookID, ok := uintParam(c, "bookID")
	if !ok {
		return
	}
	tree, err := h.positioning.GenerateOutline(c.Request.Context(), h.userID(c), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.treeCache.Put(c.Request.Context(), tree)
	c.JSON(http.StatusOK, tree)
}
