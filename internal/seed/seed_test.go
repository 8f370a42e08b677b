package seed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

const onePxPNG = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\nIDATx\x9cc\x00\x01\x00\x00\x05\x00\x01\r\n-\xb4\x00\x00\x00\x00IEND\xaeB`\x82"

func openXYZ(t *testing.T) *xyzstore.Store {
	t.Helper()
	s, err := xyzstore.Open(t.TempDir(), "png", true, 2*time.Second)
	if err != nil {
		t.Fatalf("xyzstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDriver() *Driver {
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	return New(export.New(res, nil), res, nil)
}

func TestRunSeedExport(t *testing.T) {
	src := openXYZ(t)
	c := tile.NewCoords(0, 0, 0)
	if err := src.Put(context.Background(), c, []byte(onePxPNG), true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	target := openXYZ(t)

	d := newDriver()
	cfg := Config{
		Seeds: []SeedEntry{
			{
				ID:   "fixture",
				Kind: SeedExport,
				Export: &export.Params{
					ID:          "fixture",
					Source:      resolver.TileSource{Store: src},
					Target:      target,
					Coverages:   []tile.Coverage{tile.NewCoverage(tile.NewBBox(-10, -10, 10, 10), 0, 0)},
					Concurrency: 1,
					Refresh:     export.RefreshUnconditional(),
				},
			},
		},
	}

	sum, err := d.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SeedsRun != 1 || sum.SeedFailures != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if _, err := target.Get(context.Background(), c); err != nil {
		t.Errorf("expected tile exported into target, got %v", err)
	}
}

func TestRunSeedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("style-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "basic.json")

	d := newDriver()
	cfg := Config{
		Seeds: []SeedEntry{
			{
				ID:   "basic",
				Kind: SeedDownload,
				Download: &DownloadSpec{
					Path:    path,
					Forward: resolver.FileForward{URL: srv.URL},
				},
			},
		},
	}

	sum, err := d.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SeedsRun != 1 {
		t.Errorf("expected 1 seed run, got %+v", sum)
	}
}

func TestRunCleanupRemoveTile(t *testing.T) {
	target := openXYZ(t)
	c := tile.NewCoords(0, 0, 0)
	if err := target.Put(context.Background(), c, []byte(onePxPNG), true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d := newDriver()
	cfg := Config{
		Cleanups: []CleanupEntry{
			{
				ID:   "purge",
				Kind: CleanupRemoveTile,
				RemoveTile: &RemoveTileSpec{
					Target:    target,
					Coverages: []tile.Coverage{tile.NewCoverage(tile.NewBBox(-10, -10, 10, 10), 0, 0)},
				},
			},
		},
	}

	sum, err := d.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.TilesRemoved != 1 {
		t.Errorf("expected 1 tile removed, got %+v", sum)
	}
	if _, err := target.Get(context.Background(), c); err == nil {
		t.Error("expected tile to be gone after cleanup")
	}
}

func TestRunCleanupRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.json")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d := newDriver()
	cfg := Config{
		Cleanups: []CleanupEntry{
			{ID: "purge-files", Kind: CleanupRemoveFile, RemoveFile: &RemoveFileSpec{Paths: []string{path}}},
		},
	}

	sum, err := d.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesRemoved != 1 || sum.FileFailures != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}

func TestRunRejectsConcurrentStart(t *testing.T) {
	d := newDriver()
	if !d.token.Start() {
		t.Fatal("token.Start should have succeeded")
	}
	defer d.token.Finish()

	_, err := d.Run(context.Background(), Config{})
	if apierrors.KindOf(err) != apierrors.Conflict {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestCancelSkipsRemainingSeeds(t *testing.T) {
	proceed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-proceed
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDriver()
	cfg := Config{
		Seeds: []SeedEntry{
			{ID: "first", Kind: SeedDownload, Download: &DownloadSpec{Path: filepath.Join(dir, "first.json"), Forward: resolver.FileForward{URL: srv.URL}}},
			{ID: "second", Kind: SeedDownload, Download: &DownloadSpec{Path: filepath.Join(dir, "second.json"), Forward: resolver.FileForward{URL: srv.URL}}},
		},
	}

	done := make(chan Summary, 1)
	go func() {
		sum, _ := d.Run(context.Background(), cfg)
		done <- sum
	}()

	time.Sleep(50 * time.Millisecond)
	if !d.Cancel() {
		t.Fatal("expected Cancel to report a run in progress")
	}
	close(proceed)

	sum := <-done
	if sum.SeedsRun != 1 {
		t.Errorf("expected exactly 1 seed to run before cancel took effect, got %+v", sum)
	}
}
