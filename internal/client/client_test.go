package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestsCarryBearerToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"documents": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "sekrit")
	if _, err := c.Documents(context.Background()); err != nil {
		t.Fatalf("documents: %v", err)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "document not found"})
	}))
	defer ts.Close()

	c := New(ts.URL, "")
	_, err := c.Status(context.Background(), "ghost")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "document not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestStreamDownloadsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "doc-1" || r.URL.Query().Get("segment") != "2" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("audio bytes"))
	}))
	defer ts.Close()

	c := New(ts.URL, "")
	data, err := c.Stream(context.Background(), "doc-1", 2)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Fatalf("body = %q", data)
	}
}
