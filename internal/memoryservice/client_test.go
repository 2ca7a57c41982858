package memoryservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", "")
	if c.Configured() {
		t.Fatal("expected Configured() false for empty baseURL")
	}
	if _, err := c.Search(context.Background(), SearchRequest{Query: "x"}); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestClient_SearchRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		var req SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(SearchResponse{Results: []SearchResult{{ID: "1", Content: req.Query, Score: 0.9}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	resp, err := c.Search(context.Background(), SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Content != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClient_IngestPropagatesBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad content"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.retryConfig.MaxRetries = 0
	_, err := c.Ingest(context.Background(), IngestRequest{Content: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_PingUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable backend")
	}
}
