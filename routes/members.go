package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"patient-buddy-backend/services"
	"patient-buddy-backend/utils"
)

type createMemberRequest struct {
	Name string `json:"name"`
}

// SetupMemberRoutes wires family-member management.
func SetupMemberRoutes(router *gin.Engine, svc *services.MemberService) {
	members := router.Group("/members")

	members.POST("", func(c *gin.Context) {
		var req createMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body")
			return
		}

		member, err := svc.Create(c.Request.Context(), req.Name)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"member":  member,
		})
	})

	members.GET("/:memberId", func(c *gin.Context) {
		member, err := svc.Get(c.Request.Context(), c.Param("memberId"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"member":  member,
		})
	})
}
