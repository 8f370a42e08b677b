package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("expected header X-Test=yes, got %q", r.Header.Get("X-Test"))
		}
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	data, err := c.Fetch(context.Background(), srv.URL, map[string]string{"X-Test": "yes"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("got %q", data)
	}

	st := c.Status()
	if st.TotalCompleted != 1 || st.TotalBytes != int64(len("tile-bytes")) {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestClientFetchNoUpstreamTile(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c := NewClient(0, nil)
		_, err := c.Fetch(context.Background(), srv.URL, nil)
		if !errors.Is(err, ErrNoUpstreamTile) {
			t.Errorf("status %d: expected ErrNoUpstreamTile, got %v", code, err)
		}
		srv.Close()
	}
}

func TestClientFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	_, err := c.Fetch(context.Background(), srv.URL, nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upErr.Status != 500 {
		t.Errorf("got status %d", upErr.Status)
	}
}
