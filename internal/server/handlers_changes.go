package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkfold/pilot/backend/internal/suggest"
)

type createChangePayload struct {
	Steps   json.RawMessage `json:"steps"`
	Comment string          `json:"comment"`
}

type updateChangePayload struct {
	Status *string         `json:"status"`
	Steps  json.RawMessage `json:"steps"`
}

func (h *httpHandler) handleListChanges(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var statusFilter *suggest.Status
	if raw := c.Query("status"); raw != "" {
		status, ok := suggest.ParseStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		statusFilter = &status
	}
	changes, err := h.ledger.List(c.Request.Context(), h.userID(c), talkingPointID, statusFilter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *httpHandler) handleCreateChange(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var request createChangePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	change, err := h.ledger.Create(c.Request.Context(), h.userID(c), talkingPointID, string(request.Steps), request.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, change)
}

// handleUpdateChange routes a PATCH to either a decision or a steps
// reposition, depending on which field is present.
func (h *httpHandler) handleUpdateChange(c *gin.Context) {
	changeID := c.Param("changeID")
	var request updateChangePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if request.Status != nil {
		status, ok := suggest.ParseStatus(*request.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		change, err := h.ledger.Decide(c.Request.Context(), h.userID(c), changeID, status)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, change)
		return
	}

	if len(request.Steps) > 0 {
		change, err := h.ledger.UpdateSteps(c.Request.Context(), h.userID(c), changeID, string(request.Steps))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, change)
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}

func (h *httpHandler) handleDeleteChange(c *gin.Context) {
	if err := h.ledger.Delete(c.Request.Context(), h.userID(c), c.Param("changeID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
