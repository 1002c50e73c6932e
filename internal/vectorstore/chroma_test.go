package vectorstore

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"patient-buddy-backend/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *ChromaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewChromaClient(&config.Config{ChromaURL: server.URL})
}

func TestEnsureCollectionSendsGetOrCreate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body["get_or_create"] != true {
			t.Error("get_or_create must be set")
		}
		if body["name"] != "report_abc" {
			t.Errorf("got name %v", body["name"])
		}
		json.NewEncoder(w).Encode(Collection{ID: "col-1", Name: "report_abc"})
	}))

	col, err := client.EnsureCollection(context.Background(), "report_abc", map[string]any{"report_id": "abc"})
	if err != nil {
		t.Fatalf("EnsureCollection returned error: %v", err)
	}
	if col.ID != "col-1" || col.Name != "report_abc" {
		t.Errorf("got collection %+v", col)
	}
}

func TestAddPostsBatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/col-1/add" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var batch AddBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if len(batch.IDs) != 2 || batch.IDs[0] != "chunk_abc_0" {
			t.Errorf("got ids %v", batch.IDs)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.Add(context.Background(), Collection{ID: "col-1"}, AddBatch{
		IDs:        []string{"chunk_abc_0", "chunk_abc_1"},
		Embeddings: [][]float64{{0.1}, {0.2}},
		Documents:  []string{"a", "b"},
		Metadatas:  []map[string]any{{"index": 0}, {"index": 1}},
	})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
}

func TestAddEmptyBatchIsNoop(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty batch must not hit the server")
	}))

	if err := client.Add(context.Background(), Collection{ID: "col-1"}, AddBatch{}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
}

func TestQueryConvertsDistanceToSimilarity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/col-1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			QueryEmbeddings [][]float64 `json:"query_embeddings"`
			NResults        int         `json:"n_results"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if req.NResults != 5 {
			t.Errorf("got n_results %d, want 5", req.NResults)
		}
		if len(req.QueryEmbeddings) != 1 {
			t.Fatalf("got %d query embeddings", len(req.QueryEmbeddings))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"documents": [][]string{{"closest", "further"}},
			"distances": [][]float64{{0.1, 0.4}},
			"metadatas": [][]map[string]any{{{"section": "diagnosis"}, {"section": "general"}}},
		})
	}))

	results, err := client.Query(context.Background(), Collection{ID: "col-1"}, []float64{0.5}, 5)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if math.Abs(results[0].Similarity-0.9) > 1e-9 {
		t.Errorf("got similarity %v, want 0.9", results[0].Similarity)
	}
	if results[0].Text != "closest" {
		t.Errorf("got text %q", results[0].Text)
	}
	if results[0].Metadata["section"] != "diagnosis" {
		t.Errorf("got metadata %v", results[0].Metadata)
	}
}

func TestQueryRejectsNonPositiveTopK(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid topK must not hit the server")
	}))

	if _, err := client.Query(context.Background(), Collection{ID: "col-1"}, []float64{0.5}, 0); err == nil {
		t.Fatal("expected error for topK = 0")
	}
}

func TestDeleteCollectionAbsorbsNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := client.DeleteCollection(context.Background(), "report_gone"); err != nil {
		t.Fatalf("missing collection should delete cleanly, got %v", err)
	}
}

func TestDeleteCollectionPropagatesServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if err := client.DeleteCollection(context.Background(), "report_abc"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
