package handlers

import (
	"telecare/internal/models"
	"telecare/internal/services"
	"telecare/internal/utils"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	calls *services.CallService
}

func NewCallHandler(calls *services.CallService) *CallHandler {
	return &CallHandler{calls: calls}
}

type createCallRequest struct {
	ThreadID string `json:"thread_id"`
}

// transitionResponse reports the session after an end or cancel request and
// whether this request performed the transition
type transitionResponse struct {
	Call    *models.CallSession `json:"call"`
	Changed bool                `json:"changed"`
}

func (h *CallHandler) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ThreadID == "" {
		utils.BadRequestResponse(c, "thread_id is required")
		return
	}

	call, err := h.calls.Create(c.Request.Context(), actorFor(c), req.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, call)
}

func (h *CallHandler) GetCall(c *gin.Context) {
	call, err := h.calls.Get(c.Request.Context(), actorFor(c).UserID, c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, call)
}

// GetCallByCode resolves a meeting code for one of the call's participants
func (h *CallHandler) GetCallByCode(c *gin.Context) {
	call, err := h.calls.GetByCode(c.Request.Context(), actorFor(c).UserID, c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, call)
}

func (h *CallHandler) EndCall(c *gin.Context) {
	call, changed, err := h.calls.End(c.Request.Context(), actorFor(c), c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondTransition(c, call, changed, "call already over")
}

func (h *CallHandler) CancelCall(c *gin.Context) {
	call, changed, err := h.calls.Cancel(c.Request.Context(), actorFor(c), c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondTransition(c, call, changed, "call already cancelled")
}

// respondTransition reports a state change, noting when nothing changed
func respondTransition(c *gin.Context, call *models.CallSession, changed bool, unchanged string) {
	body := transitionResponse{Call: call, Changed: changed}
	if !changed {
		utils.SuccessResponseWithMessage(c, unchanged, body)
		return
	}
	utils.SuccessResponse(c, body)
}
