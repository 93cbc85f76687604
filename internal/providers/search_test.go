package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestSearchClient_Search(t *testing.T) {
	var gotPath, gotQuery, gotLimit, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotLimit = r.URL.Query().Get("limit")
		gotKey = r.Header.Get("x-api-key")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"document_id":"doc-1","content":"lora fine tuning notes","quality_score":0.9,"relevance_score":0.8},
			{"document_id":"doc-2","content":"adapter merging guide","quality_score":0.7,"relevance_score":0.5,"metadata":{"source":"wiki"}}
		]}`))
	}))
	defer srv.Close()

	client := NewSearchClient(srv.URL, "test-key", 5*time.Second, arbor.NewLogger())

	results, err := client.Search(context.Background(), "lora adapters", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotPath != "/api/search" {
		t.Errorf("request path = %q, want /api/search", gotPath)
	}
	if gotQuery != "lora adapters" {
		t.Errorf("q param = %q, want %q", gotQuery, "lora adapters")
	}
	if gotLimit != "10" {
		t.Errorf("limit param = %q, want 10", gotLimit)
	}
	if gotKey != "test-key" {
		t.Errorf("x-api-key header = %q, want test-key", gotKey)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].DocumentID != "doc-1" {
		t.Errorf("results[0].DocumentID = %q, want doc-1", results[0].DocumentID)
	}
	if results[0].QualityScore != 0.9 {
		t.Errorf("results[0].QualityScore = %v, want 0.9", results[0].QualityScore)
	}
	if results[1].Metadata["source"] != "wiki" {
		t.Errorf("results[1].Metadata[source] = %q, want wiki", results[1].Metadata["source"])
	}
}

func TestSearchClient_SearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewSearchClient(srv.URL, "", 5*time.Second, arbor.NewLogger())

	_, err := client.Search(context.Background(), "anything", 5)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q should mention status 503", err.Error())
	}
}

func TestSearchClient_NoAPIKeyHeader(t *testing.T) {
	headerPresent := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, headerPresent = r.Header["X-Api-Key"]
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewSearchClient(srv.URL, "", 5*time.Second, arbor.NewLogger())

	if _, err := client.Search(context.Background(), "q", 1); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if headerPresent {
		t.Error("x-api-key header should be absent when no key is configured")
	}
}

func TestSearchClient_Name(t *testing.T) {
	client := NewSearchClient("http://localhost:9999", "", 0, arbor.NewLogger())
	if client.Name() != "search-service" {
		t.Errorf("Name() = %q, want search-service", client.Name())
	}
}
