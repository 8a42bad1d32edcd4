package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) / float32(dim)
	}
	return v
}

func newTestServer(t *testing.T, dim int, capture *[]embedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/models/embedding-001:embedContent":
			var req embedRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if capture != nil {
				*capture = append(*capture, req)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(embedResponse{Embedding: embedValues{Values: testVector(dim)}})
		case r.URL.Path == "/models/embedding-001:batchEmbedContents":
			var req batchEmbedRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			out := batchEmbedResponse{}
			for range req.Requests {
				out.Embeddings = append(out.Embeddings, embedValues{Values: testVector(dim)})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(url string, dim int) *Client {
	return NewClient(url, "test-key", "embedding-001", dim, 5*time.Second, zerolog.New(os.Stderr))
}

func TestEmbedQuery_TaskType(t *testing.T) {
	var captured []embedRequest
	srv := newTestServer(t, 768, &captured)
	defer srv.Close()

	c := newTestClient(srv.URL, 768)
	vec, err := c.EmbedQuery(context.Background(), "fever with chills")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 768 {
		t.Fatalf("expected 768 dims, got %d", len(vec))
	}
	if len(captured) != 1 || captured[0].TaskType != taskQuery {
		t.Errorf("expected task type %s, got %+v", taskQuery, captured)
	}
}

func TestEmbedDocument_TaskType(t *testing.T) {
	var captured []embedRequest
	srv := newTestServer(t, 768, &captured)
	defer srv.Close()

	c := newTestClient(srv.URL, 768)
	if _, err := c.EmbedDocument(context.Background(), "text"); err != nil {
		t.Fatalf("EmbedDocument: %v", err)
	}
	if captured[0].TaskType != taskDocument {
		t.Errorf("expected task type %s, got %s", taskDocument, captured[0].TaskType)
	}
}

func TestEmbedDocuments_PreservesOrder(t *testing.T) {
	srv := newTestServer(t, 768, nil)
	defer srv.Close()

	c := newTestClient(srv.URL, 768)
	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := newTestServer(t, 384, nil)
	defer srv.Close()

	c := newTestClient(srv.URL, 768)
	if _, err := c.EmbedQuery(context.Background(), "text"); err == nil {
		t.Fatal("expected error on dimension mismatch")
	}
}

func TestEmbed_Unconfigured(t *testing.T) {
	c := newTestClient("", 768)
	if _, err := c.EmbedQuery(context.Background(), "text"); err != ErrUnconfigured {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 768)
	if _, err := c.EmbedQuery(context.Background(), "text"); err == nil {
		t.Fatal("expected error on 429 response")
	}
}
