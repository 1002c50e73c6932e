package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
	"patient-buddy-backend/internal/vectorstore"
	"patient-buddy-backend/models"
)

// Embedder produces an embedding vector for a text. Implementations must
// always return a usable vector; degraded output beats no output.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// LLM is the chat-completion surface of the language-model client.
type LLM interface {
	ChatCompletion(ctx context.Context, req ai.ChatRequest) (string, error)
	StreamChatCompletion(ctx context.Context, req ai.ChatRequest, emit func(ai.StreamEvent) error) error
}

// VectorIndex is the vector-store surface the pipeline needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, metadata map[string]any) (vectorstore.Collection, error)
	Add(ctx context.Context, col vectorstore.Collection, batch vectorstore.AddBatch) error
	Query(ctx context.Context, col vectorstore.Collection, embedding []float64, topK int) ([]vectorstore.QueryResult, error)
	DeleteCollection(ctx context.Context, name string) error
}

// IngestQueue defers ingestion of oversized uploads to a worker.
type IngestQueue interface {
	EnqueueIngest(ctx context.Context, reportID string) error
}

// RetrievedChunk is one similarity hit returned to callers as a source.
type RetrievedChunk struct {
	Text       string  `json:"text"`
	Section    string  `json:"section"`
	Similarity float64 `json:"similarity"`
}

// QueryAnswer is the answer to a report question plus its sources.
type QueryAnswer struct {
	Answer  string           `json:"answer"`
	Sources []RetrievedChunk `json:"sources"`
}

// UploadInput carries one document upload.
type UploadInput struct {
	PatientID string
	MemberID  string
	FileName  string
	Text      string
}

// ReportService orchestrates the document pipeline: upload, chunking,
// embedding, indexing, summarization, querying and deletion.
type ReportService struct {
	store    ReportStore
	embedder Embedder
	llm      LLM
	vectors  VectorIndex
	queue    IngestQueue
	cfg      *config.Config
}

func NewReportService(store ReportStore, embedder Embedder, llm LLM, vectors VectorIndex, queue IngestQueue, cfg *config.Config) *ReportService {
	return &ReportService{
		store:    store,
		embedder: embedder,
		llm:      llm,
		vectors:  vectors,
		queue:    queue,
		cfg:      cfg,
	}
}

// Upload persists a new report in processing state and ingests it.
// Documents above the sync limit are handed to the worker queue when one
// is configured; everything else is ingested inline before returning.
func (s *ReportService) Upload(ctx context.Context, in UploadInput) (*models.Report, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyDocument
	}
	if in.PatientID == "" {
		return nil, ErrMissingFields
	}
	patientID, err := primitive.ObjectIDFromHex(in.PatientID)
	if err != nil {
		return nil, ErrInvalidID
	}

	report := &models.Report{
		Patient:          patientID,
		FileName:         in.FileName,
		FullText:         text,
		ProcessingStatus: models.StatusProcessing,
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return nil, err
	}

	if in.MemberID != "" {
		if memberID, err := primitive.ObjectIDFromHex(in.MemberID); err == nil {
			if err := s.store.LinkReportToMember(ctx, memberID, report.ID); err != nil {
				logger.Warn("Failed to link report to member", "member_id", in.MemberID, "report_id", report.ID.Hex(), "error", err)
			}
		}
	}

	if s.queue != nil && len(text) > s.cfg.SyncIngestLimit {
		if err := s.queue.EnqueueIngest(ctx, report.ID.Hex()); err != nil {
			logger.Error("Failed to enqueue ingestion, falling back to inline", "report_id", report.ID.Hex(), "error", err)
			if err := s.Ingest(ctx, report.ID.Hex()); err != nil {
				return report, err
			}
		}
		return report, nil
	}

	if err := s.Ingest(ctx, report.ID.Hex()); err != nil {
		return report, err
	}
	return s.store.GetReport(ctx, report.ID)
}

// Ingest chunks a report's text, embeds each chunk and writes the
// vectors and chunk rows in batches. A mid-ingestion failure leaves the
// report failed with the count of chunks that made it in.
func (s *ReportService) Ingest(ctx context.Context, reportID string) error {
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return ErrInvalidID
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return err
	}

	// Ingest can run more than once for the same report: the queue retries
	// failed tasks and Upload falls back to an inline run when enqueueing
	// fails. Drop whatever a previous attempt wrote so chunk indices and
	// vector point ids stay unique.
	if err := s.store.DeleteChunks(ctx, id); err != nil {
		s.failIngestion(ctx, id, 0, err)
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if err := s.vectors.DeleteCollection(ctx, report.CollectionID); err != nil {
		s.failIngestion(ctx, id, 0, err)
		return fmt.Errorf("failed to clear previous vector collection: %w", err)
	}

	col, err := s.vectors.EnsureCollection(ctx, report.CollectionID, map[string]any{
		"report_id": report.ID.Hex(),
	})
	if err != nil {
		s.failIngestion(ctx, id, 0, err)
		return fmt.Errorf("failed to prepare vector collection: %w", err)
	}

	chunks := ChunkText(report.FullText, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	inserted := 0
	batchSize := s.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := s.embedBatch(ctx, batch)
		if err != nil {
			s.failIngestion(ctx, id, inserted, err)
			return fmt.Errorf("failed to embed chunk batch: %w", err)
		}

		add := vectorstore.AddBatch{
			IDs:        make([]string, len(batch)),
			Embeddings: embeddings,
			Documents:  make([]string, len(batch)),
			Metadatas:  make([]map[string]any, len(batch)),
		}
		rows := make([]models.Chunk, len(batch))
		for i, ch := range batch {
			add.IDs[i] = fmt.Sprintf("chunk_%s_%d", report.ID.Hex(), ch.Index)
			add.Documents[i] = ch.Text
			add.Metadatas[i] = map[string]any{
				"report_id": report.ID.Hex(),
				"index":     ch.Index,
				"section":   ch.Section,
			}
			rows[i] = models.Chunk{
				Report:    report.ID,
				Text:      ch.Text,
				Index:     ch.Index,
				StartWord: ch.StartWord,
				EndWord:   ch.EndWord,
				Metadata:  models.ChunkMetadata{Section: ch.Section},
			}
		}

		if err := s.vectors.Add(ctx, col, add); err != nil {
			s.failIngestion(ctx, id, inserted, err)
			return fmt.Errorf("failed to index chunk batch: %w", err)
		}
		if err := s.store.InsertChunks(ctx, rows); err != nil {
			s.failIngestion(ctx, id, inserted, err)
			return fmt.Errorf("failed to persist chunk batch: %w", err)
		}
		inserted += len(batch)
	}

	if err := s.store.UpdateReportStatus(ctx, id, models.StatusCompleted, inserted, ""); err != nil {
		return err
	}
	logger.Info("Report ingested", "report_id", report.ID.Hex(), "chunks", inserted)
	return nil
}

// embedBatch embeds a batch's chunks concurrently, preserving order.
func (s *ReportService) embedBatch(ctx context.Context, batch []TextChunk) ([][]float64, error) {
	embeddings := make([][]float64, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, ch := range batch {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			embeddings[i], errs[i] = s.embedder.Embed(ctx, text)
		}(i, ch.Text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return embeddings, nil
}

func (s *ReportService) failIngestion(ctx context.Context, id primitive.ObjectID, inserted int, cause error) {
	if err := s.store.UpdateReportStatus(ctx, id, models.StatusFailed, inserted, cause.Error()); err != nil {
		logger.Error("Failed to mark report as failed", "report_id", id.Hex(), "error", err)
	}
}

// Summarize generates (or returns a cached) patient-friendly summary of
// the report in the requested language.
func (s *ReportService) Summarize(ctx context.Context, reportID, lang string) (string, error) {
	if !SupportedLanguage(lang) {
		lang = "en"
	}
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return "", ErrInvalidID
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return "", err
	}
	if report.ProcessingStatus == models.StatusProcessing {
		return "", ErrReportProcessing
	}
	if cached, ok := report.Summaries[lang]; ok && cached != "" {
		return cached, nil
	}

	results, err := s.retrieve(ctx, report, SummaryProbe, 10)
	if err != nil {
		return "", err
	}
	context := BuildReportContext(results)
	if context == "" {
		context = LimitText(report.FullText)
	}

	summary, err := s.llm.ChatCompletion(ctx, ai.ChatRequest{
		Model: s.cfg.GroqModel,
		Messages: []ai.ChatMessage{
			{Role: "user", Content: BuildSummarizePrompt(context, lang)},
		},
		Temperature: 0.2,
		MaxTokens:   800,
	})
	if err != nil {
		return "", err
	}

	if err := s.store.SaveSummary(ctx, id, lang, summary, "", ""); err != nil {
		return "", err
	}
	return summary, nil
}

// Query answers a question against one report's indexed chunks.
func (s *ReportService) Query(ctx context.Context, reportID, question string, topK int) (*QueryAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuery
	}
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return nil, ErrInvalidID
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report.ProcessingStatus == models.StatusProcessing {
		return nil, ErrReportProcessing
	}
	if topK <= 0 {
		topK = 5
	}

	results, err := s.retrieve(ctx, report, question, topK)
	if err != nil {
		return nil, err
	}

	answer, err := s.llm.ChatCompletion(ctx, ai.ChatRequest{
		Model: s.cfg.GroqModel,
		Messages: []ai.ChatMessage{
			{Role: "user", Content: BuildQueryPrompt(BuildReportContext(results), question)},
		},
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, err
	}
	return &QueryAnswer{Answer: answer, Sources: results}, nil
}

// QueryStream streams the answer to a question token by token. Sources
// are retrieved up front; emit receives tokens until a done event.
func (s *ReportService) QueryStream(ctx context.Context, reportID, question string, topK int, emit func(ai.StreamEvent) error) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuery
	}
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return ErrInvalidID
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if report.ProcessingStatus == models.StatusProcessing {
		return ErrReportProcessing
	}
	if topK <= 0 {
		topK = 5
	}

	results, err := s.retrieve(ctx, report, question, topK)
	if err != nil {
		return err
	}

	return s.llm.StreamChatCompletion(ctx, ai.ChatRequest{
		Model: s.cfg.GroqStreamModel,
		Messages: []ai.ChatMessage{
			{Role: "user", Content: BuildQueryPrompt(BuildReportContext(results), question)},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
		Stream:      true,
	}, emit)
}

func (s *ReportService) retrieve(ctx context.Context, report *models.Report, query string, topK int) ([]RetrievedChunk, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	col, err := s.vectors.EnsureCollection(ctx, report.CollectionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector collection: %w", err)
	}
	hits, err := s.vectors.Query(ctx, col, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	results := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		section := ""
		if hit.Metadata != nil {
			if v, ok := hit.Metadata["section"].(string); ok {
				section = v
			}
		}
		results = append(results, RetrievedChunk{
			Text:       hit.Text,
			Section:    section,
			Similarity: hit.Similarity,
		})
	}
	return results, nil
}

// Get fetches one report by id.
func (s *ReportService) Get(ctx context.Context, reportID string) (*models.Report, error) {
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return nil, ErrInvalidID
	}
	return s.store.GetReport(ctx, id)
}

// ListByPatient lists a patient's reports, newest first.
func (s *ReportService) ListByPatient(ctx context.Context, patientID string) ([]models.Report, error) {
	id, err := primitive.ObjectIDFromHex(patientID)
	if err != nil {
		return nil, ErrInvalidID
	}
	return s.store.FindReportsByPatient(ctx, id)
}

// Delete removes a report, its chunks and its vector collection. The
// vector delete is best effort so a dead vector store never strands the
// database rows.
func (s *ReportService) Delete(ctx context.Context, reportID string) error {
	id, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		return ErrInvalidID
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return err
	}

	if err := s.vectors.DeleteCollection(ctx, report.CollectionID); err != nil {
		logger.Warn("Failed to delete vector collection", "collection", report.CollectionID, "error", err)
	}
	if err := s.store.DeleteChunks(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteReport(ctx, id)
}
