package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/mbtilestore"
	"github.com/tileproxy/tileproxy/internal/store/pgstore"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// exportTargetDTO names the freshly-opened backend an export writes
// into; exactly one of the path-bearing fields is meaningful per Type.
type exportTargetDTO struct {
	Type      string `json:"type"` // "mbtiles" | "xyz" | "pg"
	Path      string `json:"path"`
	Extension string `json:"extension"`
	URI       string `json:"uri"`
	Table     string `json:"table"`
}

func (t exportTargetDTO) open(ctx context.Context) (store.Store, error) {
	switch t.Type {
	case "mbtiles":
		return mbtilestore.Open(t.Path, true, store.OpenTimeout)
	case "xyz":
		return xyzstore.Open(t.Path, t.Extension, true, store.OpenTimeout)
	case "pg":
		return pgstore.Open(ctx, t.URI, t.Table, true, store.OpenTimeout)
	default:
		return nil, apierrors.New(apierrors.BadRequest, fmt.Sprintf("export target: unknown type %q", t.Type), nil)
	}
}

// refreshDTO is the wire shape of export.RefreshPolicy (§4.G's three
// refreshBefore variants: ISO datetime, days, or MD5-compare).
type refreshDTO struct {
	Mode string  `json:"mode"` // "unconditional" | "before" | "hash"
	Days float64 `json:"days"`
	Time string  `json:"time"`
}

func (d refreshDTO) toPolicy() (export.RefreshPolicy, error) {
	switch d.Mode {
	case "", "unconditional":
		return export.RefreshUnconditional(), nil
	case "hash":
		return export.RefreshHashCompare(), nil
	case "before":
		if d.Time != "" {
			t, err := time.Parse(time.RFC3339, d.Time)
			if err != nil {
				return export.RefreshPolicy{}, apierrors.New(apierrors.BadRequest, "refresh.time: "+d.Time, err)
			}
			return export.RefreshBeforeTime(t), nil
		}
		return export.RefreshBeforeDays(d.Days), nil
	default:
		return export.RefreshPolicy{}, apierrors.New(apierrors.BadRequest, fmt.Sprintf("refresh: unknown mode %q", d.Mode), nil)
	}
}

type exportRequestDTO struct {
	Target           exportTargetDTO `json:"target"`
	Coverages        []coverageDTO   `json:"coverages"`
	Concurrency      int             `json:"concurrency"`
	StoreTransparent bool            `json:"storeTransparent"`
	Refresh          refreshDTO      `json:"refresh"`
}

// handleExport implements §6 row 7: POST starts an export run for the
// named data source, GET requests its cancellation. Each data id gets
// its own CancelToken, independent of the batch seed driver's token
// (§4.H only single-flights within one seed/cleanup run, not across the
// per-source HTTP export endpoint).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		s.startExport(w, r, id)
	case http.MethodGet:
		s.cancelExport(w, r, id)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) tokenFor(id string) (*concurrency.CancelToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.exportTokens[id]
	return t, ok
}

func (s *Server) tokenForOrCreate(id string) *concurrency.CancelToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.exportTokens[id]
	if !ok {
		t = concurrency.NewCancelToken()
		s.exportTokens[id] = t
	}
	return t
}

func (s *Server) startExport(w http.ResponseWriter, r *http.Request, id string) {
	src, ok := s.reg.TileSource(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var req exportRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest, "decode export request body", err))
		return
	}
	if len(req.Coverages) == 0 {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.BadRequest, "export request with no coverages", nil))
		return
	}
	refresh, err := req.Refresh.toPolicy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workers := req.Concurrency
	if workers <= 0 {
		workers = 1
	}

	token := s.tokenForOrCreate(id)
	if !token.Start() {
		writeError(w, http.StatusConflict, apierrors.New(apierrors.Conflict, fmt.Sprintf("export %q already running", id), nil))
		return
	}

	target, err := req.Target.open(r.Context())
	if err != nil {
		token.Finish()
		writeError(w, http.StatusBadRequest, err)
		return
	}

	coverages := make([]tile.Coverage, len(req.Coverages))
	for i, c := range req.Coverages {
		coverages[i] = c.toCoverage()
	}

	params := export.Params{
		ID:               id,
		Source:           src,
		Target:           target,
		Coverages:        coverages,
		Concurrency:      workers,
		StoreTransparent: req.StoreTransparent,
		Refresh:          refresh,
	}

	go func() {
		defer token.Finish()
		defer target.Close()
		n, err := s.exporter.Run(context.Background(), params, token, nil)
		if err != nil {
			s.log().Error("server: export failed", "id", id, "error", err)
			return
		}
		s.log().Info("server: export finished", "id", id, "tiles", n)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) cancelExport(w http.ResponseWriter, r *http.Request, id string) {
	token, ok := s.tokenFor(id)
	if !ok {
		writeError(w, http.StatusNotFound, apierrors.New(apierrors.NotFound, fmt.Sprintf("no export running for %q", id), nil))
		return
	}
	if !token.RequestCancel() {
		writeError(w, http.StatusConflict, apierrors.New(apierrors.Conflict, fmt.Sprintf("export %q is not running", id), nil))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
