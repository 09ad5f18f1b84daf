package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/mock"
)

// seededStore holds the ids created by newSeededStore
type seededStore struct {
	*mock.MockIdentityStore
	alice     int64
	confirmed int64
	clustered int64
	loose     int64
}

// newSeededStore creates a mock store with one person, one confirmed face,
// one clustered face and one unresolved face
func newSeededStore(t *testing.T) *seededStore {
	t.Helper()
	ctx := context.Background()
	s := &seededStore{MockIdentityStore: mock.NewMockIdentityStore()}

	person, err := s.AddPerson(ctx, "Alice")
	if err != nil {
		t.Fatalf("AddPerson: %v", err)
	}
	s.alice = person.ID

	add := func(file string, x float32) int64 {
		id, err := s.AddFace(ctx, database.NewFace{
			FileRef:    file,
			Embedding:  []float32{x, 0},
			Confidence: 0.9,
			BBox:       database.BBox{Left: 1, Top: 2, Width: 30, Height: 40},
		})
		if err != nil {
			t.Fatalf("AddFace: %v", err)
		}
		return id
	}
	s.confirmed = add("a.jpg", 0)
	s.clustered = add("b.jpg", 1)
	s.loose = add("c.jpg", 2)

	if err := s.ConfirmFace(ctx, s.confirmed, s.alice); err != nil {
		t.Fatalf("ConfirmFace: %v", err)
	}
	if _, err := s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c-1", FaceID: s.clustered, Revision: 1}); err != nil {
		t.Fatalf("AssignCluster: %v", err)
	}
	return s
}

// jsonRequest creates a request with a JSON body
func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
