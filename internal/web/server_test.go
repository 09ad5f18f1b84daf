package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/mock"
)

func newTestServer(t *testing.T, token string) (*Server, *mock.MockIdentityStore) {
	t.Helper()
	store := mock.NewMockIdentityStore()
	if _, err := store.AddFace(context.Background(), database.NewFace{FileRef: "a.jpg", Embedding: []float32{1, 2}}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}
	cfg := &config.WebConfig{Host: "127.0.0.1", Port: 0, APIToken: token}
	return NewServer(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func serve(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t, "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/api/v1/health", http.StatusOK},
		{"GET", "/api/v1/stats", http.StatusOK},
		{"GET", "/api/v1/faces", http.StatusOK},
		{"GET", "/api/v1/faces/1", http.StatusOK},
		{"GET", "/api/v1/faces/2", http.StatusNotFound},
		{"GET", "/api/v1/persons", http.StatusOK},
		{"GET", "/api/v1/clusters", http.StatusOK},
		{"GET", "/api/v1/runs", http.StatusOK},
		{"GET", "/api/v1/albums", http.StatusNotFound},
		{"DELETE", "/api/v1/persons", http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := serve(s, tc.method, tc.path, "", nil)
			if recorder.Code != tc.want {
				t.Errorf("expected status %d, got %d: %s", tc.want, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestConfirmFlow(t *testing.T) {
	s, _ := newTestServer(t, "")

	recorder := serve(s, "POST", "/api/v1/persons", `{"name":"Alice"}`, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var person database.Person
	if err := json.Unmarshal(recorder.Body.Bytes(), &person); err != nil {
		t.Fatalf("decode person: %v", err)
	}

	recorder = serve(s, "POST", "/api/v1/persons", `{"name":"alice"}`, nil)
	if recorder.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", recorder.Code)
	}

	body := fmt.Sprintf(`{"person_id":%d}`, person.ID)
	recorder = serve(s, "POST", "/api/v1/faces/1/confirm", body, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = serve(s, "GET", "/api/v1/faces?state=confirmed", "", nil)
	if !strings.Contains(recorder.Body.String(), `"status":"confirmed"`) {
		t.Errorf("expected confirmed face in %s", recorder.Body.String())
	}
}

func TestWriteRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t, "s3cret")

	recorder := serve(s, "POST", "/api/v1/persons", `{"name":"Bob"}`, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = serve(s, "POST", "/api/v1/persons", `{"name":"Bob"}`, map[string]string{"Authorization": "Bearer s3cret"})
	if recorder.Code != http.StatusCreated {
		t.Errorf("expected 201 with token, got %d", recorder.Code)
	}

	recorder = serve(s, "GET", "/api/v1/persons", "", nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected reads to stay open, got %d", recorder.Code)
	}
}
