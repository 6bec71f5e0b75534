package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/CoachForge/internal/logger"
)

func serveWithID(t *testing.T, header string) (ctxID, respID string) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triggers", http.NoBody)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-ID")
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"missing", "", false},
		{"caller id kept", "signup-42:retry.1", true},
		{"oversized", strings.Repeat("x", maxRequestIDLen+1), false},
		{"newline injection", "abc\nlevel=ERROR", false},
		{"spaces", "a b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, respID := serveWithID(t, tt.header)
			if ctxID != respID {
				t.Fatalf("context id %q differs from response id %q", ctxID, respID)
			}
			if tt.keep {
				if respID != tt.header {
					t.Errorf("expected caller id %q, got %q", tt.header, respID)
				}
				return
			}
			if len(respID) != 32 || respID == tt.header {
				t.Errorf("expected a generated 32-char id, got %q", respID)
			}
		})
	}
}
