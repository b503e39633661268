package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit origin", []string{"https://app.example.com/"}, "https://app.example.com", http.MethodGet, "https://app.example.com", "true", http.StatusOK},
		{"wildcard has no credentials", []string{"*"}, "https://evil.example", http.MethodGet, "https://evil.example", "", http.StatusOK},
		{"unknown origin", []string{"https://app.example.com"}, "https://evil.example", http.MethodGet, "", "", http.StatusOK},
		{"preflight", []string{"https://app.example.com"}, "https://app.example.com", http.MethodOptions, "https://app.example.com", "true", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/projects", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
