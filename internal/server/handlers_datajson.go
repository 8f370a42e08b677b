package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
)

// tileJSONDoc is the TileJSON 2.2.0 wire shape (§6 row 2): the stored
// metadata plus a tiles array templated with the requesting host, which
// is never itself persisted.
type tileJSONDoc struct {
	store.TileJSON
	TileJSONVersion string   `json:"tilejson"`
	Tiles           []string `json:"tiles"`
}

func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := s.reg.Data(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	ext := entry.TileJSON.Format
	if ext == "" {
		ext = "png"
	}
	doc := tileJSONDoc{
		TileJSON:        entry.TileJSON,
		TileJSONVersion: "2.2.0",
		Tiles:           []string{fmt.Sprintf("%s/datas/%s/{z}/{x}/{y}.%s", hostBase(r), id, ext)},
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log().Error("server: encode tilejson failed", "id", id, "error", err)
	}
}

// handleMD5 implements §6 row 3: an ETag header carrying the backing
// file's MD5, meaningful only for file-backed (MBTiles/PMTiles) sources.
func (s *Server) handleMD5(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := s.reg.Data(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if entry.FilePath == "" {
		writeError(w, http.StatusNotFound, apierrors.New(apierrors.NotFound,
			fmt.Sprintf("data %q has no single backing file", id), nil))
		return
	}

	sum, err := format.MD5OfFile(entry.FilePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apierrors.New(apierrors.Internal,
			fmt.Sprintf("md5 data %q", id), err))
		return
	}

	w.Header().Set("ETag", sum)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, sum)
}

// handleDownload implements §6 row 4: streams the raw backing file with
// an attachment disposition, meaningful only for MBTiles/PMTiles.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := s.reg.Data(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if entry.FilePath == "" {
		writeError(w, http.StatusNotFound, apierrors.New(apierrors.NotFound,
			fmt.Sprintf("data %q has no downloadable backing file", id), nil))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(entry.FilePath)))
	http.ServeFile(w, r, entry.FilePath)
}
