package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/vectorstore"
	"patient-buddy-backend/models"
	"patient-buddy-backend/services"
)

// Minimal in-memory backends so handlers run against a real service.

type memStore struct {
	mu      sync.Mutex
	reports map[primitive.ObjectID]*models.Report
	chunks  map[primitive.ObjectID][]models.Chunk
}

func newMemStore() *memStore {
	return &memStore{
		reports: make(map[primitive.ObjectID]*models.Report),
		chunks:  make(map[primitive.ObjectID][]models.Chunk),
	}
}

func (s *memStore) InsertReport(ctx context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	r.CollectionID = models.CollectionName(r.ID)
	r.UploadDate = time.Now()
	r.UpdatedAt = time.Now()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *memStore) GetReport(ctx context.Context, id primitive.ObjectID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, services.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) UpdateReportStatus(ctx context.Context, id primitive.ObjectID, status string, chunkCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return services.ErrReportNotFound
	}
	r.ProcessingStatus = status
	r.ChunkCount = chunkCount
	r.ErrorMessage = errMsg
	return nil
}

func (s *memStore) SaveSummary(ctx context.Context, id primitive.ObjectID, lang, summary, keyFindings, recommendations string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return services.ErrReportNotFound
	}
	if r.Summaries == nil {
		r.Summaries = make(map[string]string)
	}
	r.Summaries[lang] = summary
	return nil
}

func (s *memStore) DeleteReport(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return services.ErrReportNotFound
	}
	delete(s.reports, id)
	return nil
}

func (s *memStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		s.chunks[ch.Report] = append(s.chunks[ch.Report], ch)
	}
	return nil
}

func (s *memStore) DeleteChunks(ctx context.Context, reportID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, reportID)
	return nil
}

func (s *memStore) FindReportsByPatient(ctx context.Context, patientID primitive.ObjectID) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.Patient == patientID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) LinkReportToMember(ctx context.Context, memberID, reportID primitive.ObjectID) error {
	return nil
}

func (s *memStore) MarkStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type memEmbedder struct{}

func (memEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return ai.FallbackEmbedding(text, 8), nil
}

type memVectors struct {
	mu    sync.Mutex
	texts map[string][]string
	metas map[string][]map[string]any
}

func newMemVectors() *memVectors {
	return &memVectors{
		texts: make(map[string][]string),
		metas: make(map[string][]map[string]any),
	}
}

func (v *memVectors) EnsureCollection(ctx context.Context, name string, metadata map[string]any) (vectorstore.Collection, error) {
	return vectorstore.Collection{ID: name, Name: name}, nil
}

func (v *memVectors) Add(ctx context.Context, col vectorstore.Collection, batch vectorstore.AddBatch) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts[col.ID] = append(v.texts[col.ID], batch.Documents...)
	v.metas[col.ID] = append(v.metas[col.ID], batch.Metadatas...)
	return nil
}

func (v *memVectors) Query(ctx context.Context, col vectorstore.Collection, embedding []float64, topK int) ([]vectorstore.QueryResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []vectorstore.QueryResult
	for i, text := range v.texts[col.ID] {
		if i >= topK {
			break
		}
		out = append(out, vectorstore.QueryResult{Text: text, Similarity: 0.9, Metadata: v.metas[col.ID][i]})
	}
	return out, nil
}

func (v *memVectors) DeleteCollection(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.texts, name)
	delete(v.metas, name)
	return nil
}

type memLLM struct {
	answer string
	tokens []string
}

func (l *memLLM) ChatCompletion(ctx context.Context, req ai.ChatRequest) (string, error) {
	return l.answer, nil
}

func (l *memLLM) StreamChatCompletion(ctx context.Context, req ai.ChatRequest, emit func(ai.StreamEvent) error) error {
	for _, tok := range l.tokens {
		if err := emit(ai.StreamEvent{Token: tok}); err != nil {
			return err
		}
	}
	return emit(ai.StreamEvent{Done: true})
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		GroqModel:       "m",
		GroqStreamModel: "sm",
		ChunkSize:       500,
		ChunkOverlap:    100,
		EmbedBatchSize:  10,
		SyncIngestLimit: 200000,
		MaxFileSize:     1 << 20,
	}
	svc := services.NewReportService(newMemStore(), memEmbedder{}, &memLLM{answer: "answer", tokens: []string{"hi", " there"}}, newMemVectors(), nil, cfg)

	router := gin.New()
	SetupReportRoutes(router, svc, cfg)
	return router
}

func uploadTestReport(t *testing.T, router *gin.Engine) string {
	t.Helper()
	body := `{"patientId":"` + primitive.NewObjectID().Hex() + `","fileName":"r.pdf","fullText":"Diagnosis: flu. Prescribed Crocin."}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ReportID     string `json:"reportId"`
		CollectionID string `json:"collectionId"`
		ChunkCount   int    `json:"chunkCount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad upload response: %v", err)
	}
	if resp.CollectionID != "report_"+resp.ReportID {
		t.Errorf("got collection id %q for report %q", resp.CollectionID, resp.ReportID)
	}
	if resp.ChunkCount != 1 {
		t.Errorf("got chunk count %d, want 1", resp.ChunkCount)
	}
	return resp.ReportID
}

func TestUploadAndGetReport(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Report  struct {
			ProcessingStatus string `json:"processingStatus"`
			ChunkCount       int    `json:"chunkCount"`
		} `json:"report"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Report.ProcessingStatus != models.StatusCompleted {
		t.Errorf("unexpected response: %s", w.Body.String())
	}
}

func TestGetReportNotFound(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports/"+primitive.NewObjectID().Hex(), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports/not-an-id", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400 for malformed id", w.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports/"+id+"/query", strings.NewReader(`{"query":"what was prescribed?"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("query status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Answer  string `json:"answer"`
		Sources []struct {
			Text string `json:"text"`
		} `json:"sources"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Answer != "answer" {
		t.Errorf("got answer %q", resp.Answer)
	}
	if len(resp.Sources) == 0 {
		t.Error("expected at least one source")
	}
}

func TestQueryEndpointRejectsEmptyQuestion(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports/"+id+"/query", strings.NewReader(`{"query":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", w.Code)
	}
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports/"+id+"/query/stream", strings.NewReader(`{"query":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("got content type %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, `data: {"token":"hi"}`) {
		t.Errorf("missing first token event in: %s", body)
	}
	if !strings.Contains(body, `data: {"done":true}`) {
		t.Errorf("missing done event in: %s", body)
	}
}

func TestSummarizeEndpointUsesAcceptLanguage(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports/"+id+"/summarize", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9,en;q=0.8")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("summarize status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Language string `json:"language"`
		Summary  string `json:"summary"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Language != "hi" {
		t.Errorf("got language %q, want hi", resp.Language)
	}
	if resp.Summary == "" {
		t.Error("expected a summary")
	}
}

func TestDeleteEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := uploadTestReport(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/reports/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted report should 404, got %d", w.Code)
	}
}

func TestPreferredLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"en-US,en;q=0.9", "en"},
		{"hi-IN,hi;q=0.9", "hi"},
		{"mr", "mr"},
		{"hi;q=0.8", "hi"},
	}
	for _, tt := range tests {
		if got := preferredLanguage(tt.header); got != tt.want {
			t.Errorf("preferredLanguage(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
