package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS_Origins(t *testing.T) {
	handler := CORS([]string{"https://faces.example.com"})(okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{"https://faces.example.com", "https://faces.example.com"},
		{"http://localhost:5173", "http://localhost:5173"},
		{"http://localhost", "http://localhost"},
		{"http://localhost.evil.com", ""},
		{"https://evil.example.com", ""},
		{"", ""},
	}

	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/api/v1/stats", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("origin %q: expected %q, got %q", tc.origin, tc.want, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/persons", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", recorder.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/faces", nil))

	line := buf.String()
	if !strings.Contains(line, "status=418") || !strings.Contains(line, "path=/api/v1/faces") {
		t.Errorf("unexpected log line %q", line)
	}
}
