package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk is a persisted fragment of a report's text, mirrored into the
// vector store under the id pattern chunk_<reportID>_<index>. Indices for
// a report are contiguous starting at zero.
type Chunk struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Report    primitive.ObjectID `bson:"report" json:"report"`
	Text      string             `bson:"text" json:"text"`
	Index     int                `bson:"index" json:"index"`
	StartWord int                `bson:"start_word" json:"startWord"`
	EndWord   int                `bson:"end_word" json:"endWord"`
	Metadata  ChunkMetadata      `bson:"metadata" json:"metadata"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

// ChunkMetadata carries the coarse section label assigned at ingestion.
type ChunkMetadata struct {
	Section string `bson:"section" json:"section"`
	Page    int    `bson:"page,omitempty" json:"page,omitempty"`
}

// Section labels assigned by the chunk classifier, in priority order.
const (
	SectionPatientInfo     = "patient_info"
	SectionDiagnosis       = "diagnosis"
	SectionMedications     = "medications"
	SectionTestResults     = "test_results"
	SectionVitalSigns      = "vital_signs"
	SectionRecommendations = "recommendations"
	SectionGeneral         = "general"
)
