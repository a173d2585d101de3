package handlers

import (
	"telecare/internal/models"
	"telecare/internal/services"
	"telecare/internal/utils"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type startChatRequest struct {
	Participant models.Participant `json:"participant"`
}

type sendMessageRequest struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"type,omitempty"`
}

// StartChat finds or creates the thread between the caller and one participant
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req startChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "participant is required")
		return
	}

	thread, err := h.chat.StartChat(c.Request.Context(), actorFor(c), req.Participant)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, thread)
}

func (h *ChatHandler) ListThreads(c *gin.Context) {
	threads, err := h.chat.ListThreads(c.Request.Context(), actorFor(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, threads)
}

func (h *ChatHandler) GetThread(c *gin.Context) {
	thread, err := h.chat.GetThread(c.Request.Context(), actorFor(c).UserID, c.Param("thread_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, thread)
}

// SendMessage posts a message to the thread. The whole chat room sees it,
// since the request has no connection to exclude.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "content is required")
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), actorFor(c), services.SendInput{
		ThreadID: c.Param("thread_id"),
		Content:  req.Content,
		Type:     req.Type,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, msg)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	changed, err := h.chat.MarkRead(c.Request.Context(), actorFor(c), c.Param("thread_id"), c.Param("message_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"changed": changed})
}

func (h *ChatHandler) UnreadCount(c *gin.Context) {
	count, err := h.chat.UnreadCount(c.Request.Context(), actorFor(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"count": count})
}
