package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_Generated(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got == "" {
		t.Fatalf("request id was not generated")
	}
	if rec.Result().Header.Get("X-Request-Id") != got {
		t.Fatalf("response header does not match context id")
	}
}

func TestRequestID_Preserved(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got != "abc-123" {
		t.Fatalf("request id = %q, want %q", got, "abc-123")
	}
}
