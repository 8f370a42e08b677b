package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

const onePxPNG = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\nIDATx\x9cc\x00\x01\x00\x00\x05\x00\x01\r\n-\xb4\x00\x00\x00\x00IEND\xaeB`\x82"

func newTestXYZStore(t *testing.T) *xyzstore.Store {
	t.Helper()
	s, err := xyzstore.Open(t.TempDir(), "png", true, 2*time.Second)
	if err != nil {
		t.Fatalf("xyzstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveTileHit(t *testing.T) {
	s := newTestXYZStore(t)
	c := tile.NewCoords(3, 4, 5)
	if err := s.Put(context.Background(), c, []byte(onePxPNG), true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r := New(datasource.NewClient(time.Second, nil), nil)
	data, headers, err := r.ResolveTile(context.Background(), "fixture", TileSource{Store: s}, c)
	if err != nil {
		t.Fatalf("ResolveTile: %v", err)
	}
	if string(data) != onePxPNG {
		t.Error("unexpected bytes")
	}
	if headers.ContentType != "image/png" {
		t.Errorf("ContentType = %q", headers.ContentType)
	}
}

func TestResolveTileFormatMismatchFromStorage(t *testing.T) {
	s := newTestXYZStore(t)
	c := tile.NewCoords(3, 4, 5)
	if err := s.Put(context.Background(), c, []byte(onePxPNG), true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r := New(datasource.NewClient(time.Second, nil), nil)
	_, _, err := r.ResolveTile(context.Background(), "fixture", TileSource{Store: s, Format: "pbf"}, c)
	if apierrors.KindOf(err) != apierrors.BadRequest {
		t.Errorf("expected BadRequest kind for format mismatch, got %v (%v)", apierrors.KindOf(err), err)
	}
}

func TestResolveTileFormatMismatchFromForward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(onePxPNG))
	}))
	defer srv.Close()

	s := newTestXYZStore(t)
	r := New(datasource.NewClient(2*time.Second, nil), nil)
	src := TileSource{
		Store:  s,
		Format: "pbf",
		Forward: &Forward{
			URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
			Scheme:      tile.SchemeXYZ,
		},
	}

	_, _, err := r.ResolveTile(context.Background(), "osm", src, tile.NewCoords(3, 4, 5))
	if apierrors.KindOf(err) != apierrors.BadRequest {
		t.Errorf("expected BadRequest kind for format mismatch, got %v (%v)", apierrors.KindOf(err), err)
	}
}

func TestResolveTileMissNoForward(t *testing.T) {
	s := newTestXYZStore(t)
	r := New(datasource.NewClient(time.Second, nil), nil)
	_, _, err := r.ResolveTile(context.Background(), "fixture", TileSource{Store: s}, tile.NewCoords(1, 1, 1))
	if apierrors.KindOf(err) != apierrors.NotFound {
		t.Errorf("expected NotFound kind, got %v (%v)", apierrors.KindOf(err), err)
	}
}

func TestResolveTileForwardAndWriteThrough(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(onePxPNG))
	}))
	defer srv.Close()

	s := newTestXYZStore(t)
	r := New(datasource.NewClient(2*time.Second, nil), nil)

	src := TileSource{
		Store: s,
		Forward: &Forward{
			URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
			Scheme:      tile.SchemeXYZ,
			StoreCache:  true,
		},
	}

	c := tile.NewCoords(3, 4, 5)
	data, _, err := r.ResolveTile(context.Background(), "osm", src, c)
	if err != nil {
		t.Fatalf("ResolveTile: %v", err)
	}
	if string(data) != onePxPNG {
		t.Error("unexpected bytes from forward fetch")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected exactly 1 upstream hit, got %d", hits)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := s.Get(context.Background(), c); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write-through never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResolveTileUpstreamMissSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestXYZStore(t)
	r := New(datasource.NewClient(time.Second, nil), nil)
	src := TileSource{Store: s, Forward: &Forward{URLTemplate: srv.URL + "/{z}/{x}/{y}.png"}}

	_, _, err := r.ResolveTile(context.Background(), "osm", src, tile.NewCoords(1, 1, 1))
	if apierrors.KindOf(err) != apierrors.NotFound {
		t.Errorf("expected NotFound (swallowed 404), got %v", err)
	}
}

func TestResolveFileForwardAndCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":8}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "basic.json")

	r := New(datasource.NewClient(time.Second, nil), nil)
	data, err := r.ResolveFile(context.Background(), "basic", FileSource{
		Path:    path,
		Forward: &FileForward{URL: srv.URL, StoreCache: true},
	})
	if err != nil {
		t.Fatalf("ResolveFile: %v", err)
	}
	if string(data) != `{"version":8}` {
		t.Errorf("unexpected body: %s", data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file write-through never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResolveFileMissNoForward(t *testing.T) {
	r := New(datasource.NewClient(time.Second, nil), nil)
	_, err := r.ResolveFile(context.Background(), "missing", FileSource{Path: filepath.Join(t.TempDir(), "nope.json")})
	if apierrors.KindOf(err) != apierrors.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

var _ store.Store = (*xyzstore.Store)(nil)
