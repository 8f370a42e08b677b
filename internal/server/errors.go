package server

import (
	"net/http"

	"github.com/tileproxy/tileproxy/internal/apierrors"
)

// statusFor maps an apierrors.Kind onto the HTTP status §7 assigns it
// for JSON/file resources. Tile routes use tileStatusFor instead, since
// a missing tile is 204 there rather than 404.
func statusFor(err error) int {
	e, ok := err.(*apierrors.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apierrors.NotFound:
		return http.StatusNotFound
	case apierrors.BadRequest:
		return http.StatusBadRequest
	case apierrors.Conflict:
		return http.StatusConflict
	case apierrors.Timeout:
		return http.StatusGatewayTimeout
	case apierrors.Upstream:
		if e.Status != 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// tileStatusFor is statusFor's tile-route variant: a missing tile is 204
// (§7 "to match streaming consumers' 'empty tile' convention"), not 404.
func tileStatusFor(err error) int {
	if apierrors.KindOf(err) == apierrors.NotFound {
		return http.StatusNoContent
	}
	return statusFor(err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}
