package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"patient-buddy-backend/services"
	"patient-buddy-backend/utils"
)

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// SetupChatRoutes wires the conversational endpoint over report history.
func SetupChatRoutes(router *gin.Engine, svc *services.ChatService) {
	router.POST("/chat", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body")
			return
		}
		if req.UserID == "" || req.Message == "" {
			utils.RespondWithBadRequest(c, "userId and message are required")
			return
		}

		answer, err := svc.Chat(c.Request.Context(), req.UserID, req.Message)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"answer":  answer,
		})
	})
}
