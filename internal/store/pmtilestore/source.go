package pmtilestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// byteSource reads an arbitrary byte range of a PMTiles archive, backed
// either by a local file or by HTTP range requests.
type byteSource interface {
	readRange(ctx context.Context, offset, length uint64) ([]byte, error)
	close() error
}

type fileSource struct {
	f *os.File
}

func openFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: open %s: %w", path, err)
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) readRange(_ context.Context, offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("pmtilestore: read at %d: %w", offset, err)
	}
	return buf[:n], nil
}

func (s *fileSource) close() error {
	return s.f.Close()
}

type httpSource struct {
	url    string
	client *http.Client
}

func openHTTPSource(url string) *httpSource {
	return &httpSource{url: url, client: http.DefaultClient}
}

func (s *httpSource) readRange(ctx context.Context, offset, length uint64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: range request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pmtilestore: range request returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (s *httpSource) close() error { return nil }

// isRemote reports whether ref looks like a URL rather than a local path.
func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
