package services

import (
	"strings"

	"patient-buddy-backend/models"
)

// TextChunk is one window of words produced by ChunkText, before it is
// embedded and persisted.
type TextChunk struct {
	Text      string
	Index     int
	StartWord int
	EndWord   int
	Section   string
}

// ChunkText splits text into overlapping word windows. Each chunk holds
// up to chunkSize words and consecutive chunks share overlap words, so
// the window start advances by chunkSize - overlap. Every word appears
// in at least one chunk.
func ChunkText(text string, chunkSize, overlap int) []TextChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []TextChunk{}
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	step := chunkSize - overlap
	chunks := make([]TextChunk, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunkText := strings.Join(words[start:end], " ")
		chunks = append(chunks, TextChunk{
			Text:      chunkText,
			Index:     len(chunks),
			StartWord: start,
			EndWord:   end,
			Section:   DetectSection(chunkText),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// DetectSection classifies a chunk by keyword. The first matching rule
// wins, so more specific sections are checked before general ones.
func DetectSection(text string) string {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "patient") && (strings.Contains(lower, "age") || strings.Contains(lower, "name")):
		return models.SectionPatientInfo
	case strings.Contains(lower, "diagnosis"):
		return models.SectionDiagnosis
	case strings.Contains(lower, "medication") || strings.Contains(lower, "prescription"):
		return models.SectionMedications
	case strings.Contains(lower, "test") || strings.Contains(lower, "lab"):
		return models.SectionTestResults
	case strings.Contains(lower, "vital"):
		return models.SectionVitalSigns
	case strings.Contains(lower, "recommend"):
		return models.SectionRecommendations
	default:
		return models.SectionGeneral
	}
}
