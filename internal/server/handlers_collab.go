package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inkfold/pilot/backend/internal/collab"
)

type submitStepsPayload struct {
	Version  int64             `json:"version"`
	Steps    []json.RawMessage `json:"steps"`
	ClientID string            `json:"clientID"`
}

type stepsPagePayload struct {
	Steps     []json.RawMessage `json:"steps"`
	ClientIDs []string          `json:"clientIDs"`
	Version   int64             `json:"version"`
}

func (h *httpHandler) handleCollabState(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	version, err := h.authority.GetState(c.Request.Context(), h.userID(c), talkingPointID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (h *httpHandler) handleCollabSubmit(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	var request submitStepsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	batch, err := collab.NewStepBatch(collab.StepBatchConfig{
		BaseVersion: request.Version,
		Steps:       request.Steps,
		ClientID:    request.ClientID,
	})
	if err != nil {
		if errors.Is(err, collab.ErrInvalidStepBatch) || errors.Is(err, collab.ErrInvalidClientID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_steps"})
			return
		}
		h.respondError(c, err)
		return
	}
	result, err := h.authority.ReceiveSteps(c.Request.Context(), h.userID(c), talkingPointID, batch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version": result.Version})
}

func (h *httpHandler) handleCollabStepsSince(c *gin.Context) {
	talkingPointID, ok := uintParam(c, "tpID")
	if !ok {
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
		return
	}
	page, err := h.authority.StepsSince(c.Request.Context(), h.userID(c), talkingPointID, since)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stepsPagePayload{
		Steps:     page.Steps,
		ClientIDs: page.ClientIDs,
		Version:   page.Version,
	})
}
