// Package resolver implements §4.F: the cache-forward policy shared by
// tiles, sprites, fonts, GeoJSON, and style documents. For a storage
// miss with a configured upstream, it fetches the tile, optionally
// schedules a non-blocking write-through, and returns the bytes either
// way — the response never waits on the cache write (§9 "fire-and-forget
// cache write").
//
// The resolver never calls back into itself or into another storage
// to satisfy a forward fetch (§9 "cyclic/recursive resolve"): forwarding
// always goes straight to the datasource.Client.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// Forward is a source's upstream cache-forward configuration (§3 "tile
// source" entity's optional cache-forward sub-object).
type Forward struct {
	// URLTemplate contains "{z}", "{x}", "{y}" placeholders, substituted
	// per request.
	URLTemplate      string
	Headers          map[string]string
	Scheme           tile.Scheme
	StoreCache       bool
	StoreTransparent bool
	Timeout          time.Duration
}

// TileSource pairs a backend with its optional forward policy and the
// source's declared tile format, if any.
type TileSource struct {
	Store   store.Store
	Forward *Forward
	Format  string
}

// Headers is the small set of HTTP response headers a resolved payload
// carries, derived once from its sniffed format.
type Headers struct {
	ContentType     string
	ContentEncoding string
	ETag            string
}

func headersFor(data []byte) (Headers, format.Format, error) {
	f, err := format.Detect(data)
	if err != nil {
		return Headers{}, 0, apierrors.New(apierrors.BadRequest, "sniff tile format", err)
	}
	return Headers{
		ContentType:     f.ContentType(),
		ContentEncoding: f.ContentEncoding(),
		ETag:            format.MD5(data),
	}, f, nil
}

// checkDeclaredFormat enforces §3's "format in tile metadata must match
// the detected format of any fetched tile" invariant: a source that
// declares a format gets served tiles whose actual bytes match it, or
// the request fails rather than silently serving a mismatched payload.
func checkDeclaredFormat(declared string, detected format.Format, what string) error {
	if declared == "" || declared == detected.Extension() {
		return nil
	}
	return apierrors.New(apierrors.BadRequest,
		fmt.Sprintf("%s: declared format %q does not match detected format %q: Unsupported format", what, declared, detected.Extension()), nil)
}

// Resolver drives the cache-forward algorithm over a datasource.Client,
// de-duplicating concurrent identical forward fetches for the same key
// via singleflight so a thundering herd of misses for one coordinate
// triggers exactly one upstream request.
type Resolver struct {
	client      *datasource.Client
	logger      *slog.Logger
	flight      singleflight.Group
	lockTimeout time.Duration
}

// New builds a Resolver over client, logging write-through failures (but
// never surfacing them) through logger.
func New(client *datasource.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, logger: logger, lockTimeout: 5 * time.Second}
}

// ResolveTile implements §4.F steps 2-7 for one tile coordinate. The
// registry is responsible for step 1 (looking up the source by id); by
// the time ResolveTile is called the TileSource is already known to
// exist.
func (r *Resolver) ResolveTile(ctx context.Context, id string, src TileSource, c tile.Coords) ([]byte, Headers, error) {
	data, err := src.Store.Get(ctx, c)
	if err == nil {
		h, f, herr := headersFor(data)
		if herr != nil {
			return nil, Headers{}, herr
		}
		if ferr := checkDeclaredFormat(src.Format, f, fmt.Sprintf("tile %s/%s", id, c)); ferr != nil {
			return nil, Headers{}, ferr
		}
		return data, h, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, Headers{}, apierrors.New(apierrors.Internal, fmt.Sprintf("read tile %s/%s", id, c), err)
	}

	if src.Forward == nil {
		return nil, Headers{}, apierrors.New(apierrors.NotFound, fmt.Sprintf("tile %s/%s", id, c), store.ErrNotFound)
	}

	url := substituteXYZ(src.Forward.URLTemplate, src.Forward.Scheme, c)
	key := id + "/" + c.String()

	v, err, _ := r.flight.Do(key, func() (any, error) {
		timeout := src.Forward.Timeout
		if timeout <= 0 {
			timeout = datasource.DefaultTimeout
		}
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return r.client.Fetch(fctx, url, src.Forward.Headers)
	})
	if err != nil {
		return nil, Headers{}, classifyFetchError(fmt.Sprintf("tile %s/%s", id, c), url, err)
	}
	fetched := v.([]byte)

	h, f, herr := headersFor(fetched)
	if herr != nil {
		return nil, Headers{}, herr
	}
	if ferr := checkDeclaredFormat(src.Format, f, fmt.Sprintf("tile %s/%s", id, c)); ferr != nil {
		return nil, Headers{}, ferr
	}

	if src.Forward.StoreCache {
		r.writeThroughTile(id, src.Store, c, fetched, src.Forward.StoreTransparent)
	}

	return fetched, h, nil
}

// writeThroughTile performs the cache write in a detached goroutine so
// the response is never blocked on it (§9 "fire-and-forget cache
// write"); failures are logged only, never surfaced to the resolve
// caller (§7 "Write-through failures during resolve are never surfaced
// to the caller").
func (r *Resolver) writeThroughTile(id string, s store.Store, c tile.Coords, data []byte, storeTransparent bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.lockTimeout)
		defer cancel()
		if err := s.Put(ctx, c, data, storeTransparent); err != nil {
			r.logger.Warn("resolver: write-through failed", "source", id, "tile", c.String(), "error", err)
		}
	}()
}

// DefaultFetchTimeout is used when a FileForward omits its own Timeout.
const DefaultFetchTimeout = datasource.DefaultTimeout

// classifyFetchError maps a datasource.Client error onto the §7 kind the
// HTTP collaborator expects: a swallowed 204/404 becomes NotFound, a
// raised non-2xx becomes Upstream (status preserved), anything else
// (network failure, context deadline) becomes Timeout.
func classifyFetchError(what, url string, err error) error {
	if errors.Is(err, datasource.ErrNoUpstreamTile) {
		return apierrors.New(apierrors.NotFound, what, store.ErrNotFound)
	}
	var upErr *datasource.UpstreamError
	if errors.As(err, &upErr) {
		return apierrors.NewUpstream(upErr.Status, fmt.Sprintf("forward fetch %s (%s)", what, url), err)
	}
	return apierrors.New(apierrors.Timeout, fmt.Sprintf("forward fetch %s (%s)", what, url), err)
}

// substituteXYZ fills a URL template's {z}/{x}/{y} placeholders, flipping
// y to TMS first when the source's scheme requires it (§4.F step 5).
func substituteXYZ(tmpl string, scheme tile.Scheme, c tile.Coords) string {
	y := c.Y
	if scheme == tile.SchemeTMS {
		y = tile.FlipY(c.Z, c.Y)
	}
	repl := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
	)
	return repl.Replace(tmpl)
}
