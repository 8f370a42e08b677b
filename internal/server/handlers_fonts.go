package server

import (
	"net/http"
	"strings"

	"github.com/tileproxy/tileproxy/internal/apierrors"
)

// handleFonts implements §6 row 8: a merged glyphs PBF for one or more
// comma-separated font ids over one range.
func (s *Server) handleFonts(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/fonts/")
	route, ok := parseFontsPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := s.fonts.ResolveRange(r.Context(), route.ids, route.rng)
	if err != nil {
		if apierrors.KindOf(err) != apierrors.NotFound {
			s.log().Error("server: font resolve failed", "ids", route.ids, "range", route.rng, "error", err)
		}
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
}
