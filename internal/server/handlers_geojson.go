package server

import (
	"net/http"
	"strings"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/geojson"
)

// handleGeoJSON implements the GeoJSON leg of the cache-forward contract:
// one document per (group, layer), validated as well-formed GeoJSON before
// it reaches the client. The proxy never re-encodes or re-projects the
// document, it only rejects one that isn't parseable.
func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/geojsons/")
	route, ok := parseGeoJSONPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	entry, ok := s.reg.GeoJSON(route.group, route.layer)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := s.res.ResolveFile(r.Context(), route.group+"/"+route.layer, entry.Source)
	if err != nil {
		if apierrors.KindOf(err) != apierrors.NotFound {
			s.log().Error("server: geojson resolve failed", "group", route.group, "layer", route.layer, "error", err)
		}
		writeError(w, statusFor(err), err)
		return
	}

	if err := geojson.Validate(data); err != nil {
		s.log().Error("server: geojson document invalid", "group", route.group, "layer", route.layer, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json; charset=utf-8")
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
}
