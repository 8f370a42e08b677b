package fonts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/resolver"
)

// bundledFamilies lists the fallback font family used when a requested
// font id cannot be resolved, chosen by substring match on weight/italic
// tokens in the requested id (§4.F "Font fallback chain").
var bundledFamilies = []string{
	"Open Sans Extrabold Italic",
	"Open Sans Extrabold",
	"Open Sans Semibold Italic",
	"Open Sans Semibold",
	"Open Sans Light Italic",
	"Open Sans Light",
	"Open Sans Bold Italic",
	"Open Sans Bold",
	"Open Sans Italic",
	"Open Sans Regular",
}

// FallbackFamily returns the bundled "Open Sans" family substituted for a
// font id that failed to resolve, matched by substring on the requested
// id's weight/italic tokens (most specific combination first), defaulting
// to "Open Sans Regular".
func FallbackFamily(requestedID string) string {
	lower := strings.ToLower(requestedID)
	for _, family := range bundledFamilies {
		token := strings.ToLower(strings.TrimPrefix(family, "Open Sans "))
		if token == "regular" {
			continue
		}
		if containsAllWords(lower, token) {
			return family
		}
	}
	return "Open Sans Regular"
}

func containsAllWords(haystack, words string) bool {
	for _, w := range strings.Fields(words) {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

// Source is one font family's on-disk root plus optional upstream.
type Source struct {
	Root    string
	Forward *resolver.FileForward
}

// Registry resolves font ranges, given a lookup from font id to its
// Source (and the bundled fallback sources, keyed by family name).
type Registry struct {
	res      *resolver.Resolver
	lookup   func(id string) (Source, bool)
	fallback func(family string) (Source, bool)
}

// NewRegistry builds a font Registry. lookup resolves a requested font id
// to its configured Source; fallback resolves a bundled family name (as
// returned by FallbackFamily) to the Source serving the bundled assets.
func NewRegistry(res *resolver.Resolver, lookup func(id string) (Source, bool), fallback func(family string) (Source, bool)) *Registry {
	return &Registry{res: res, lookup: lookup, fallback: fallback}
}

func rangePath(root, rangeName string) string {
	return filepath.Join(root, rangeName+".pbf")
}

// resolveOne fetches one font id's range file, falling back to the
// bundled family on failure.
func (r *Registry) resolveOne(ctx context.Context, id, rangeName string) ([]byte, error) {
	src, ok := r.lookup(id)
	if !ok {
		return r.resolveFallback(ctx, id, rangeName)
	}
	data, err := r.res.ResolveFile(ctx, id, resolver.FileSource{
		Path:    rangePath(src.Root, rangeName),
		Forward: src.Forward,
	})
	if err != nil {
		return r.resolveFallback(ctx, id, rangeName)
	}
	return data, nil
}

func (r *Registry) resolveFallback(ctx context.Context, id, rangeName string) ([]byte, error) {
	family := FallbackFamily(id)
	src, ok := r.fallback(family)
	if !ok {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("font %s (fallback %s unavailable)", id, family), nil)
	}
	return r.res.ResolveFile(ctx, family, resolver.FileSource{
		Path:    rangePath(src.Root, rangeName),
		Forward: src.Forward,
	})
}

// ResolveRange resolves a comma-separated list of font ids for one
// {range}.pbf request, merging their glyph PBFs per §4.F.
func (r *Registry) ResolveRange(ctx context.Context, ids []string, rangeName string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, apierrors.New(apierrors.BadRequest, "font range request with no ids", nil)
	}

	datas := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data, err := r.resolveOne(ctx, strings.TrimSpace(id), rangeName)
		if err != nil {
			return nil, err
		}
		datas = append(datas, data)
	}

	if len(datas) == 1 {
		return datas[0], nil
	}
	merged, err := Merge(datas)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "merge font glyphs", err)
	}
	return merged, nil
}
