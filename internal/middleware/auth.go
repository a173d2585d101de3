package middleware

import (
	"strings"

	"telecare/internal/models"
	"telecare/internal/utils"
	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuth
const (
	ContextUserID   = "user_id"
	ContextUserKind = "user_kind"
)

// subprotocolTokenPrefix marks a token smuggled through Sec-WebSocket-Protocol,
// for browsers that cannot set headers on the upgrade request
const subprotocolTokenPrefix = "token."

// JWTAuth validates the bearer token and stores the participant in the context
func JWTAuth(validator *utils.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validator.Validate(TokenFromRequest(c))
		if err != nil {
			logger.WithError(err).WithField("path", c.FullPath()).Debug("Rejected token")
			utils.UnauthorizedResponse(c, "Invalid or missing token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserKind, claims.Kind)
		c.Next()
	}
}

// Participant returns the authenticated participant of the request
func Participant(c *gin.Context) models.Participant {
	kind, _ := c.Get(ContextUserKind)
	k, _ := kind.(models.ParticipantKind)
	return models.Participant{UserID: c.GetString(ContextUserID), Kind: k}
}

// TokenFromRequest reads the token from the Authorization header, the token
// query parameter or the WebSocket subprotocol, in that order
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != header {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if token := c.Query("token"); token != "" {
		return token
	}

	for _, part := range strings.Split(c.GetHeader("Sec-WebSocket-Protocol"), ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, subprotocolTokenPrefix) {
			return strings.TrimPrefix(part, subprotocolTokenPrefix)
		}
	}

	return ""
}
