package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipped(t *testing.T, payload []byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestDecompressRequestsCapsInflatedBody(t *testing.T) {
	e := echo.New()
	var readErr error
	var read int
	handler := DecompressRequests(1024)(func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		read, readErr = len(data), err
		return c.NoContent(http.StatusNoContent)
	})

	// 1 MiB of zeros compresses to about a kilobyte.
	body := gzipped(t, make([]byte, 1<<20))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !errors.Is(readErr, errBodyTooLarge) {
		t.Fatalf("expected errBodyTooLarge, got %v", readErr)
	}
	if read > 1025 {
		t.Fatalf("inflated %d bytes past the cap", read)
	}
}

func TestDecompressRequestsPassesPlainBodies(t *testing.T) {
	e := echo.New()
	var got string
	handler := DecompressRequests(4)(func(c echo.Context) error {
		data, _ := io.ReadAll(c.Request().Body)
		got = string(data)
		return nil
	})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not compressed"))
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != "not compressed" {
		t.Fatalf("plain body changed: %q", got)
	}
}

func TestCreateTaskRejectsOversizedGzipBody(t *testing.T) {
	store := newMemStore()
	e, _, _ := newTestServer(t, store, mockAuth{}, Options{})

	payload := `{"title":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", gzipped(t, []byte(payload)))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.inserted) != 0 {
		t.Fatal("oversized body must not create a task")
	}
}

func TestCappedReaderAllowsExactLimit(t *testing.T) {
	r := &cappedReader{r: strings.NewReader("abcd"), n: 4}
	data, err := io.ReadAll(r)
	if err != nil || string(data) != "abcd" {
		t.Fatalf("got %q, %v", data, err)
	}
	if r.exceeded {
		t.Fatal("body at the limit must not count as exceeded")
	}
}
