package server

import (
	"net/http"
	"strings"

	"github.com/tileproxy/tileproxy/internal/apierrors"
)

// handleStyles implements the style-document leg of the cache-forward
// contract: a single style JSON document per registered id, resolved and
// cached the same way a FileSource-backed sprite or font file is.
func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/styles/")
	route, ok := parseStylesPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	entry, ok := s.reg.Style(route.id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := s.res.ResolveFile(r.Context(), entry.ID, entry.Source)
	if err != nil {
		if apierrors.KindOf(err) != apierrors.NotFound {
			s.log().Error("server: style resolve failed", "id", route.id, "error", err)
		}
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
}
