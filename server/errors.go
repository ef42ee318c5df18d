package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
)

// isNotFound reports whether err is the identity store's not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, identity.ErrNotFound)
}

// writeError maps any error onto the wire envelope. Non-protocol errors are
// logged in full server-side and reported as an opaque retryable internal
// failure.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	perr := protocol.AsProtocolError(err)
	if perr.Code == protocol.CodeInternal {
		log.Error("internal error", "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	if perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	w.WriteHeader(perr.HTTPStatus)
	if err := json.NewEncoder(w).Encode(perr.Envelope()); err != nil {
		log.Error("could not write error response", "err", err)
	}
}

// writeJSON writes a plaintext JSON response. Used by the handshake endpoint
// and the administrative plane; everything else goes through writeEncrypted.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("could not write response", "err", err)
	}
}
