package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"patient-buddy-backend/models"
)

// ReportStore is the persistence surface the services need. The Mongo
// implementation below is the production one; tests substitute fakes.
type ReportStore interface {
	InsertReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id primitive.ObjectID) (*models.Report, error)
	UpdateReportStatus(ctx context.Context, id primitive.ObjectID, status string, chunkCount int, errMsg string) error
	SaveSummary(ctx context.Context, id primitive.ObjectID, lang, summary, keyFindings, recommendations string) error
	DeleteReport(ctx context.Context, id primitive.ObjectID) error
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, reportID primitive.ObjectID) error
	FindReportsByPatient(ctx context.Context, patientID primitive.ObjectID) ([]models.Report, error)
	LinkReportToMember(ctx context.Context, memberID, reportID primitive.ObjectID) error
	MarkStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error)
}

// MongoStore implements ReportStore on MongoDB collections.
type MongoStore struct {
	reports *mongo.Collection
	chunks  *mongo.Collection
	members *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		reports: db.Collection("reports"),
		chunks:  db.Collection("chunks"),
		members: db.Collection("members"),
	}
}

func (s *MongoStore) InsertReport(ctx context.Context, report *models.Report) error {
	now := time.Now()
	if report.ID.IsZero() {
		report.ID = primitive.NewObjectID()
	}
	report.UploadDate = now
	report.UpdatedAt = now
	report.CollectionID = models.CollectionName(report.ID)

	if _, err := s.reports.InsertOne(ctx, report); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (s *MongoStore) GetReport(ctx context.Context, id primitive.ObjectID) (*models.Report, error) {
	var report models.Report
	err := s.reports.FindOne(ctx, bson.M{"_id": id}).Decode(&report)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	return &report, nil
}

func (s *MongoStore) UpdateReportStatus(ctx context.Context, id primitive.ObjectID, status string, chunkCount int, errMsg string) error {
	update := bson.M{
		"processing_status": status,
		"chunk_count":       chunkCount,
		"updated_at":        time.Now(),
	}
	if errMsg != "" {
		update["error_message"] = errMsg
	}
	res, err := s.reports.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *MongoStore) SaveSummary(ctx context.Context, id primitive.ObjectID, lang, summary, keyFindings, recommendations string) error {
	update := bson.M{
		"summaries." + lang: summary,
		"updated_at":        time.Now(),
	}
	// English doubles as the legacy single-summary field.
	if lang == "en" {
		update["summary"] = summary
	}
	if keyFindings != "" {
		update["key_findings"] = keyFindings
	}
	if recommendations != "" {
		update["recommendations"] = recommendations
	}
	res, err := s.reports.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *MongoStore) DeleteReport(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.reports.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *MongoStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		if chunks[i].ID.IsZero() {
			chunks[i].ID = primitive.NewObjectID()
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = time.Now()
		}
		docs[i] = chunks[i]
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteChunks(ctx context.Context, reportID primitive.ObjectID) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"report": reportID}); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *MongoStore) FindReportsByPatient(ctx context.Context, patientID primitive.ObjectID) ([]models.Report, error) {
	opts := options.Find().SetSort(bson.D{{Key: "upload_date", Value: -1}})
	cursor, err := s.reports.Find(ctx, bson.M{"patient": patientID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []models.Report
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}
	return reports, nil
}

// LinkReportToMember appends the report to the member's report list. A
// missing member is not an error; the report still exists standalone.
func (s *MongoStore) LinkReportToMember(ctx context.Context, memberID, reportID primitive.ObjectID) error {
	_, err := s.members.UpdateOne(ctx,
		bson.M{"_id": memberID},
		bson.M{
			"$push": bson.M{"reports": reportID},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to link report to member: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateMember(ctx context.Context, member *models.Member) error {
	now := time.Now()
	if member.ID.IsZero() {
		member.ID = primitive.NewObjectID()
	}
	member.CreatedAt = now
	member.UpdatedAt = now

	if _, err := s.members.InsertOne(ctx, member); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (s *MongoStore) GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	var member models.Member
	err := s.members.FindOne(ctx, bson.M{"_id": id}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}
	return &member, nil
}

// MarkStaleProcessing flips reports stuck in processing since before
// olderThan to failed, and returns how many were flipped.
func (s *MongoStore) MarkStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.reports.UpdateMany(ctx,
		bson.M{
			"processing_status": models.StatusProcessing,
			"updated_at":        bson.M{"$lt": olderThan},
		},
		bson.M{"$set": bson.M{
			"processing_status": models.StatusFailed,
			"error_message":     "processing timed out",
			"updated_at":        time.Now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale reports: %w", err)
	}
	return res.ModifiedCount, nil
}
