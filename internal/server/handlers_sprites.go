package server

import (
	"net/http"
	"strings"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/sprites"
)

// handleSprites implements §6 row 9: a sprite sheet or layout JSON for
// one id, falling back to the bundled default sprite on resolve failure.
func (s *Server) handleSprites(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sprites/")
	route, ok := parseSpritesPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	req, err := sprites.ParseName(route.fileName)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	data, err := s.sprites.Resolve(r.Context(), route.id, req)
	if err != nil {
		if apierrors.KindOf(err) != apierrors.NotFound {
			s.log().Error("server: sprite resolve failed", "id", route.id, "file", route.fileName, "error", err)
		}
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", req.ContentType())
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
}
