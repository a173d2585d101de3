package handlers

import (
	"net/http"

	"telecare/internal/middleware"
	"telecare/internal/services"
	"telecare/internal/utils"
	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
)

var statusByCode = map[string]int{
	services.CodeForbidden:   http.StatusForbidden,
	services.CodeNotFound:    http.StatusNotFound,
	services.CodeCallEnded:   http.StatusConflict,
	services.CodeConflict:    http.StatusConflict,
	services.CodeUnavailable: http.StatusServiceUnavailable,
	services.CodeBadRequest:  http.StatusBadRequest,
}

// respondError writes err as the API error envelope
func respondError(c *gin.Context, err error) {
	code, retryable := services.Classify(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.LogError(err, "Unhandled request error", map[string]interface{}{
			"path":    c.FullPath(),
			"user_id": c.GetString(middleware.ContextUserID),
		})
		message = "internal error"
	}

	c.Error(err)
	utils.CodedErrorResponse(c, status, code, message, retryable)
}

// actorFor identifies the HTTP caller. REST actions have no connection, so
// broadcasts they cause reach every room member.
func actorFor(c *gin.Context) services.Actor {
	p := middleware.Participant(c)
	return services.Actor{UserID: p.UserID, Kind: p.Kind}
}
