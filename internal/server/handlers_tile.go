package server

import (
	"fmt"
	"net/http"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// handleTile serves one /datas/:id/:z/:x/:y.:format request, the core
// route of the table (§6 row 1).
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request, route datasRoute) {
	entry, ok := s.reg.Data(route.id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if entry.TileJSON.Format != "" && route.format != entry.TileJSON.Format {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest,
			fmt.Sprintf("data %q serves %q tiles, not %q", route.id, entry.TileJSON.Format, route.format), nil))
		return
	}

	src, _ := s.reg.TileSource(route.id)
	c := tile.NewCoords(route.z, route.x, route.y)

	data, headers, err := s.res.ResolveTile(r.Context(), route.id, src, c)
	if err != nil {
		if apierrors.KindOf(err) != apierrors.NotFound {
			s.log().Error("server: tile resolve failed", "id", route.id, "tile", c.String(), "error", err)
		}
		writeError(w, tileStatusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", headers.ContentType)
	if headers.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", headers.ContentEncoding)
	}
	w.Header().Set("ETag", headers.ETag)
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
}
