package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func gzipTestHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("received: " + string(body)))
}

func TestGzipMiddleware_CompressesResponse(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if res.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("content-encoding = %q, want gzip", res.Header.Get("Content-Encoding"))
	}

	gz, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "received: hello" {
		t.Fatalf("body = %q, want %q", body, "received: hello")
	}
}

func TestGzipMiddleware_DecompressesRequest(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("compressed payload"))
	_ = gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "received: compressed payload" {
		t.Fatalf("body = %q, want %q", body, "received: compressed payload")
	}
}

func TestGzipMiddleware_PassThroughWithoutAcceptEncoding(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if enc := res.Header.Get("Content-Encoding"); enc != "" {
		t.Fatalf("content-encoding = %q, want empty", enc)
	}

	body, _ := io.ReadAll(res.Body)
	if string(body) != "received: plain" {
		t.Fatalf("body = %q, want %q", body, "received: plain")
	}
}

func TestGzipMiddleware_BadGzipBody(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}
