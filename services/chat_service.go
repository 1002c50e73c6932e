package services

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/models"
)

// ChatService answers free-form patient questions over the stored report
// summaries. It does no vector retrieval; context comes from the report
// rows themselves, and medicine mentions are gated to what the reports
// actually contain.
type ChatService struct {
	store ReportStore
	llm   LLM
	cfg   *config.Config
}

func NewChatService(store ReportStore, llm LLM, cfg *config.Config) *ChatService {
	return &ChatService{store: store, llm: llm, cfg: cfg}
}

// Chat produces a reply to the patient's message. With no reports on
// file the assistant answers generally; otherwise the prompt carries the
// report summaries and the medicine allowlist derived from them.
func (s *ChatService) Chat(ctx context.Context, patientID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyQuery
	}
	pid, err := primitive.ObjectIDFromHex(patientID)
	if err != nil {
		return "", ErrInvalidID
	}

	reports, err := s.store.FindReportsByPatient(ctx, pid)
	if err != nil {
		return "", err
	}

	var prompt string
	if len(reports) == 0 {
		prompt = BuildGeneralChatPrompt(message)
	} else {
		context := buildChatContext(reports)
		texts := make([]string, 0, len(reports)*3)
		for _, r := range reports {
			texts = append(texts, r.Summary, r.KeyFindings, r.Recommendations)
			for _, s := range r.Summaries {
				texts = append(texts, s)
			}
		}
		prompt = BuildChatPrompt(context, message, DetectAllowedMedicines(texts...))
	}

	return s.llm.ChatCompletion(ctx, ai.ChatRequest{
		Model: s.cfg.GroqModel,
		Messages: []ai.ChatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   700,
	})
}

func buildChatContext(reports []models.Report) string {
	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Report: %s (%s)\n", r.FileName, r.UploadDate.Format("2006-01-02"))
		if summary := reportSummary(r); summary != "" {
			b.WriteString("Summary: " + summary + "\n")
		}
		if r.KeyFindings != "" {
			b.WriteString("Key findings: " + r.KeyFindings + "\n")
		}
		if r.Recommendations != "" {
			b.WriteString("Recommendations: " + r.Recommendations)
		}
	}
	return b.String()
}

// reportSummary prefers the legacy summary field, then falls back to the
// per-language summaries in a fixed order so output stays deterministic.
func reportSummary(r models.Report) string {
	if r.Summary != "" {
		return r.Summary
	}
	for _, lang := range []string{"en", "hi", "mr"} {
		if s := r.Summaries[lang]; s != "" {
			return s
		}
	}
	return ""
}
