package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"patient-buddy-backend/internal/vectorstore"
)

// SetupHealthRoutes exposes liveness plus dependency status.
func SetupHealthRoutes(router *gin.Engine, mongoClient *mongo.Client, vectors *vectorstore.ChromaClient) {
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		mongoStatus := "up"
		if err := mongoClient.Ping(ctx, nil); err != nil {
			mongoStatus = "down"
		}

		vectorStatus := "up"
		if err := vectors.Heartbeat(ctx); err != nil {
			vectorStatus = "down"
		}

		status := http.StatusOK
		if mongoStatus == "down" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"success": status == http.StatusOK,
			"services": gin.H{
				"mongodb":     mongoStatus,
				"vectorstore": vectorStatus,
			},
		})
	})
}
