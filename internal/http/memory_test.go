package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomhq/loomgate/internal/memoryservice"
)

func TestMemoryHandler_SearchProxiesToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(memoryservice.SearchResponse{
			Results: []memoryservice.SearchResult{{ID: "1", Content: "hit", Score: 0.5}},
		})
	}))
	defer backend.Close()

	client := memoryservice.NewClient(backend.URL, "")
	h := NewMemoryHandler(client, "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(memoryservice.SearchRequest{Query: "hello"})
	req := httptest.NewRequest("POST", "/v1/memory/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
}

func TestMemoryHandler_SearchWithoutBackendReturns503(t *testing.T) {
	client := memoryservice.NewClient("", "")
	h := NewMemoryHandler(client, "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(memoryservice.SearchRequest{Query: "hello"})
	req := httptest.NewRequest("POST", "/v1/memory/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMemoryHandler_PatchAndDeleteReturn501(t *testing.T) {
	client := memoryservice.NewClient("", "")
	h := NewMemoryHandler(client, "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	for _, method := range []string{"PATCH", "DELETE"} {
		req := httptest.NewRequest(method, "/v1/memory/abc123", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("%s status = %d, want 501", method, rec.Code)
		}
	}
}

func TestMemoryHandler_RequiresBearerTokenWhenConfigured(t *testing.T) {
	client := memoryservice.NewClient("", "")
	h := NewMemoryHandler(client, "secret")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(memoryservice.SearchRequest{Query: "hello"})
	req := httptest.NewRequest("POST", "/v1/memory/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
