// Package sprites implements §4.F's sprite resolve with fallback: a
// requested sprite id plus an optional "@NNx" pixel-density suffix and a
// json/png extension resolves against that id's on-disk sprite source,
// falling back to a single bundled default sprite sheet when the id is
// unknown or its file is missing.
//
// The resolve shape mirrors internal/fonts: both sit on top of
// resolver.Resolver.ResolveFile and differ only in how they compute the
// on-disk path and in whether results are ever merged (sprites never
// are — only one id is requested per call, unlike fonts' comma list).
package sprites

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/resolver"
)

// nameRe parses the "sprite(@NNx)?.(json|png)" path segment the route
// table hands the server: group 2 is the density suffix digits (if
// any), group 3 the extension.
var nameRe = regexp.MustCompile(`^sprite(@(\d+)x)?\.(json|png)$`)

// Request is one parsed sprite file request.
type Request struct {
	Scale int    // pixel density, 1 when no "@NNx" suffix was present
	Ext   string // "json" or "png"
}

// ParseName parses the file-name portion of a sprite route (everything
// after "/sprites/:id/"), e.g. "sprite@2x.png" or "sprite.json".
func ParseName(name string) (Request, error) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return Request{}, apierrors.New(apierrors.BadRequest, fmt.Sprintf("malformed sprite file name %q", name), nil)
	}
	scale := 1
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Request{}, apierrors.New(apierrors.BadRequest, fmt.Sprintf("malformed sprite scale in %q", name), err)
		}
		scale = n
	}
	return Request{Scale: scale, Ext: m[3]}, nil
}

// FileName reconstructs the on-disk sprite file name for a Request,
// e.g. Request{Scale: 2, Ext: "png"} -> "sprite@2x.png".
func (req Request) FileName() string {
	if req.Scale <= 1 {
		return "sprite." + req.Ext
	}
	return fmt.Sprintf("sprite@%dx.%s", req.Scale, req.Ext)
}

// Source is one sprite id's on-disk root plus optional upstream.
type Source struct {
	Root    string
	Forward *resolver.FileForward
}

func spritePath(root string, req Request) string {
	return filepath.Join(root, req.FileName())
}

// Registry resolves sprite files, given a lookup from sprite id to its
// Source and a single bundled default Source used as fallback.
type Registry struct {
	res      *resolver.Resolver
	lookup   func(id string) (Source, bool)
	fallback func() (Source, bool)
}

// NewRegistry builds a sprite Registry. lookup resolves a requested
// sprite id to its configured Source; fallback resolves the bundled
// default sprite sheet served when the id is unknown or unresolvable.
func NewRegistry(res *resolver.Resolver, lookup func(id string) (Source, bool), fallback func() (Source, bool)) *Registry {
	return &Registry{res: res, lookup: lookup, fallback: fallback}
}

// ContentType maps a Request's extension to the response content type.
func (req Request) ContentType() string {
	if req.Ext == "png" {
		return "image/png"
	}
	return "application/json"
}

// Resolve fetches one sprite id's file for the requested density/format,
// falling back to the bundled default sprite sheet on any failure to
// resolve the requested id.
func (r *Registry) Resolve(ctx context.Context, id string, req Request) ([]byte, error) {
	if src, ok := r.lookup(id); ok {
		data, err := r.res.ResolveFile(ctx, id, resolver.FileSource{
			Path:    spritePath(src.Root, req),
			Forward: src.Forward,
		})
		if err == nil {
			return data, nil
		}
	}

	fallback, ok := r.fallback()
	if !ok {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("sprite %s (no fallback configured)", id), nil)
	}
	return r.res.ResolveFile(ctx, "default", resolver.FileSource{
		Path:    spritePath(fallback.Root, req),
		Forward: fallback.Forward,
	})
}
