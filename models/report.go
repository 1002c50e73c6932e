package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Report represents one uploaded medical document and its pipeline state.
// CollectionID names the vector-store collection holding the report's
// chunk embeddings and never changes for the life of the report.
type Report struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Patient          primitive.ObjectID `bson:"patient,omitempty" json:"patient,omitempty"`
	FileName         string             `bson:"file_name" json:"fileName"`
	FullText         string             `bson:"full_text" json:"-"`
	CollectionID     string             `bson:"collection_id" json:"collectionId"`
	ChunkCount       int                `bson:"chunk_count" json:"chunkCount"`
	ProcessingStatus string             `bson:"processing_status" json:"processingStatus"`
	ErrorMessage     string             `bson:"error_message,omitempty" json:"errorMessage,omitempty"`

	// Summary is the legacy single-summary field; Summaries holds one
	// generated summary per language code.
	Summary         string            `bson:"summary,omitempty" json:"summary,omitempty"`
	Summaries       map[string]string `bson:"summaries,omitempty" json:"summaries,omitempty"`
	KeyFindings     string            `bson:"key_findings,omitempty" json:"keyFindings,omitempty"`
	Recommendations string            `bson:"recommendations,omitempty" json:"recommendations,omitempty"`

	UploadDate time.Time `bson:"upload_date" json:"uploadDate"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updatedAt"`
}

// Report processing status constants.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CollectionName derives the vector-store collection name for a report id.
func CollectionName(reportID primitive.ObjectID) string {
	return "report_" + reportID.Hex()
}
