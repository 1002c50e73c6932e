package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
	"patient-buddy-backend/services"
	"patient-buddy-backend/utils"
)

type uploadRequest struct {
	PatientID string `json:"patientId"`
	MemberID  string `json:"memberId"`
	FileName  string `json:"fileName"`
	FullText  string `json:"fullText"`
}

type summarizeRequest struct {
	Language string `json:"language"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// SetupReportRoutes wires the report pipeline endpoints.
func SetupReportRoutes(router *gin.Engine, svc *services.ReportService, cfg *config.Config) {
	reports := router.Group("/reports")

	reports.POST("/upload", func(c *gin.Context) {
		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body")
			return
		}

		report, err := svc.Upload(c.Request.Context(), services.UploadInput{
			PatientID: req.PatientID,
			MemberID:  req.MemberID,
			FileName:  req.FileName,
			Text:      req.FullText,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":          true,
			"reportId":         report.ID.Hex(),
			"collectionId":     report.CollectionID,
			"chunkCount":       report.ChunkCount,
			"processingStatus": report.ProcessingStatus,
		})
	})

	reports.POST("/upload/file", func(c *gin.Context) {
		patientID := c.PostForm("patientId")
		if patientID == "" {
			utils.RespondWithBadRequest(c, "patientId is required")
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "file is required")
			return
		}
		if fileHeader.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "File exceeds maximum allowed size")
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file")
			return
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize+1))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file")
			return
		}
		if int64(len(content)) > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "File exceeds maximum allowed size")
			return
		}

		extraction, err := services.ExtractPDFText(content)
		if err != nil {
			logger.Warn("PDF extraction failed", "file", fileHeader.Filename, "error", err)
			utils.RespondWithBadRequest(c, "Could not extract text from the uploaded PDF")
			return
		}

		report, err := svc.Upload(c.Request.Context(), services.UploadInput{
			PatientID: patientID,
			MemberID:  c.PostForm("memberId"),
			FileName:  fileHeader.Filename,
			Text:      extraction.Text,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":          true,
			"reportId":         report.ID.Hex(),
			"collectionId":     report.CollectionID,
			"chunkCount":       report.ChunkCount,
			"processingStatus": report.ProcessingStatus,
			"extraction": gin.H{
				"pages":     extraction.Pages,
				"wordCount": extraction.WordCount,
				"quality":   extraction.QualityScore,
			},
		})
	})

	reports.GET("/:reportId", func(c *gin.Context) {
		report, err := svc.Get(c.Request.Context(), c.Param("reportId"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"report":  report,
		})
	})

	reports.POST("/:reportId/summarize", func(c *gin.Context) {
		var req summarizeRequest
		_ = c.ShouldBindJSON(&req)
		lang := req.Language
		if lang == "" {
			lang = preferredLanguage(c.GetHeader("Accept-Language"))
		}

		summary, err := svc.Summarize(c.Request.Context(), c.Param("reportId"), lang)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"summary":  summary,
			"language": lang,
		})
	})

	reports.POST("/:reportId/query", func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body")
			return
		}

		answer, err := svc.Query(c.Request.Context(), c.Param("reportId"), req.Query, req.TopK)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"answer":  answer.Answer,
			"sources": answer.Sources,
		})
	})

	reports.POST("/:reportId/query/stream", func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body")
			return
		}

		streamQuery(c, svc, c.Param("reportId"), req)
	})

	reports.DELETE("/:reportId", func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("reportId")); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Report deleted",
		})
	})

	router.GET("/patients/:patientId/reports", func(c *gin.Context) {
		list, err := svc.ListByPatient(c.Request.Context(), c.Param("patientId"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"reports": list,
			"count":   len(list),
		})
	})
}

// streamQuery answers a report question over server-sent events. Tokens
// go out as {"token": ...}, completion as {"done": true} and failures
// after the stream opened as {"error": ...}.
func streamQuery(c *gin.Context, svc *services.ReportService, reportID string, req queryRequest) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		utils.RespondWithInternalError(c, "Streaming not supported")
		return
	}

	writeEvent := func(payload gin.H) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", raw)
		flusher.Flush()
	}

	emit := func(event ai.StreamEvent) error {
		select {
		case <-c.Request.Context().Done():
			return c.Request.Context().Err()
		default:
		}

		switch {
		case event.Err != nil:
			writeEvent(gin.H{"error": event.Err.Error()})
		case event.Done:
			writeEvent(gin.H{"done": true})
		default:
			writeEvent(gin.H{"token": event.Token})
		}
		return nil
	}

	if err := svc.QueryStream(c.Request.Context(), reportID, req.Query, req.TopK, emit); err != nil {
		// Headers are already out; report the failure as a stream event.
		message := err.Error()
		if errors.Is(err, ai.ErrMaxRetries) {
			message = "Service is busy. Please try again in a moment."
		}
		writeEvent(gin.H{"error": message})
	}
}

// preferredLanguage extracts the leading locale from an Accept-Language
// header, e.g. "hi-IN,hi;q=0.9" becomes "hi".
func preferredLanguage(header string) string {
	if header == "" {
		return "en"
	}
	lang := header
	for i := 0; i < len(lang); i++ {
		if lang[i] == ',' || lang[i] == ';' || lang[i] == '-' {
			lang = lang[:i]
			break
		}
	}
	if lang == "" {
		return "en"
	}
	return lang
}

// respondServiceError maps service errors to HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrReportNotFound), errors.Is(err, services.ErrMemberNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidID),
		errors.Is(err, services.ErrEmptyQuery),
		errors.Is(err, services.ErrMissingFields),
		errors.Is(err, services.ErrEmptyDocument):
		utils.RespondWithBadRequest(c, err.Error())
	case errors.Is(err, services.ErrReportProcessing):
		utils.RespondWithError(c, http.StatusConflict, "Report is still processing. Please try again shortly.")
	case errors.Is(err, ai.ErrMaxRetries):
		utils.RespondWithRateLimited(c)
	default:
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		utils.RespondWithInternalError(c, "Something went wrong. Please try again.")
	}
}
