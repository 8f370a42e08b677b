package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// extraInfoBatchSize bounds how many NULL-hash rows CalculateExtraInfo
// fills per batch during the background scan triggered by the GET route.
const extraInfoBatchSize = 500

// coverageDTO is the wire shape of one requested coverage rectangle.
type coverageDTO struct {
	BBox    [4]float64 `json:"bbox"`
	MinZoom uint32     `json:"minzoom"`
	MaxZoom uint32     `json:"maxzoom"`
}

func (c coverageDTO) toCoverage() tile.Coverage {
	return tile.NewCoverage(tile.BBox(c.BBox), c.MinZoom, c.MaxZoom)
}

// handleExtraInfo implements §6 row 5/6: POST computes per-tile
// hash/created values over the requested coverages; GET kicks off a
// background scan filling in missing hash/created rows.
func (s *Server) handleExtraInfo(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := s.reg.Data(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.computeExtraInfo(w, r, id, entry.Store)
	case http.MethodGet:
		go func() {
			if err := entry.Store.CalculateExtraInfo(context.Background(), extraInfoBatchSize); err != nil {
				s.log().Error("server: calculate extra-info failed", "id", id, "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) computeExtraInfo(w http.ResponseWriter, r *http.Request, id string, backend store.Store) {
	kind, err := parseInfoKind(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, gerr := gzip.NewReader(r.Body)
		if gerr != nil {
			writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest, "decode gzip body", gerr))
			return
		}
		defer gz.Close()
		body = gz
	}

	var dtos []coverageDTO
	if err := json.NewDecoder(body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest, "decode coverages body", err))
		return
	}
	if len(dtos) == 0 {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest, "extra-info request with no coverages", nil))
		return
	}

	result := make(map[string]store.TileInfo)
	for _, dto := range dtos {
		m, err := backend.ExtraInfo(r.Context(), dto.toCoverage(), kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, apierrors.New(apierrors.Internal,
				fmt.Sprintf("extra-info %s", id), err))
			return
		}
		for k, v := range m {
			result[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log().Error("server: encode extra-info response failed", "id", id, "error", err)
	}
}

func parseInfoKind(raw string) (store.InfoKind, error) {
	switch raw {
	case "hash":
		return store.InfoHash, nil
	case "created", "":
		return store.InfoCreated, nil
	default:
		return 0, apierrors.New(apierrors.BadRequest, fmt.Sprintf("extra-info: unknown type %q", raw), nil)
	}
}
