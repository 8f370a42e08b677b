package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/filelock"
)

// FileSource is a plain-file-backed source: styles and GeoJSON documents
// are stored this way rather than through a Store backend (§4.F "with
// their own storages (plain files)"). Path is where the resolved bytes
// live on disk; Forward, if set, is consulted on a local miss exactly
// like a tile source's forward policy, with a single fully-resolved URL
// (no {z}/{x}/{y} substitution).
type FileSource struct {
	Path    string
	Forward *FileForward
}

// FileForward is a single-file source's upstream policy: one fixed URL,
// no per-request substitution.
type FileForward struct {
	URL        string
	Headers    map[string]string
	StoreCache bool
	Timeout    time.Duration
}

// ResolveFile reads a FileSource from disk, forwarding to Forward.URL on
// a miss. On a successful forward fetch with StoreCache set, the bytes
// are written through to Path in a detached goroutine, same as
// ResolveTile's tile write-through.
func (r *Resolver) ResolveFile(ctx context.Context, id string, fs FileSource) ([]byte, error) {
	data, err := os.ReadFile(fs.Path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, apierrors.New(apierrors.Internal, fmt.Sprintf("read file source %s", id), err)
	}

	if fs.Forward == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("file source %s", id), err)
	}

	timeout := fs.Forward.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetched, ferr := r.client.Fetch(fctx, fs.Forward.URL, fs.Forward.Headers)
	if ferr != nil {
		return nil, classifyFetchError(id, fs.Forward.URL, ferr)
	}

	if fs.Forward.StoreCache {
		r.writeThroughFile(id, fs.Path, fetched)
	}
	return fetched, nil
}

func (r *Resolver) writeThroughFile(id, path string, data []byte) {
	go func() {
		if err := filelock.CreateFileWithLock(path, data, r.lockTimeout); err != nil {
			r.logger.Warn("resolver: file write-through failed", "source", id, "path", path, "error", err)
		}
	}()
}
