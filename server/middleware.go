package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/curanet/nodelink/channel"
	"github.com/curanet/nodelink/crypto"
	"github.com/curanet/nodelink/metrics"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/session"
)

type contextKey int

const (
	channelContextKey contextKey = iota
	plaintextContextKey
	sessionContextKey
)

// ChannelFromContext returns the channel resolved by the channel guard.
func ChannelFromContext(ctx context.Context) (*channel.Channel, bool) {
	ch, ok := ctx.Value(channelContextKey).(*channel.Channel)
	return ch, ok
}

// SessionFromContext returns the session validated by the session guard.
func SessionFromContext(ctx context.Context) (*session.Snapshot, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Snapshot)
	return sess, ok
}

// plaintextFromContext returns the decrypted request payload.
func plaintextFromContext(ctx context.Context) ([]byte, bool) {
	plaintext, ok := ctx.Value(plaintextContextKey).([]byte)
	return plaintext, ok
}

// decodePayload unmarshals the decrypted request payload into T.
func decodePayload[T any](r *http.Request) (*T, error) {
	plaintext, ok := plaintextFromContext(r.Context())
	if !ok {
		return nil, protocol.ErrChannelInvalid()
	}
	var v T
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, protocol.NewValidationError("malformed request payload")
	}
	return &v, nil
}

// ChannelGuard resolves the X-Channel-Id header, decrypts the request
// envelope, and makes the channel and plaintext available to handlers.
// Unknown and expired channels are indistinguishable to the caller; both
// require a fresh handshake. A payload that fails integrity checks aborts
// the request before any handler logic runs.
func (h *Handler) ChannelGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(protocol.ChannelIDHeader)
		if id == "" {
			writeError(w, h.log, protocol.ErrChannelInvalid())
			return
		}
		ch, ok := h.channels.Store().Get(id)
		if !ok {
			writeError(w, h.log, protocol.ErrChannelInvalid())
			return
		}

		defer r.Body.Close()
		var envelope crypto.EncryptedPayload
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			writeError(w, h.log, protocol.ErrDecryptionFailed())
			return
		}
		plaintext, err := crypto.DecryptPayload(&envelope, ch.Key, ch.Cipher)
		if err != nil {
			h.log.Warn("envelope decryption failed", "channelId", id)
			writeError(w, h.log, protocol.ErrDecryptionFailed())
			return
		}

		ctx := context.WithValue(r.Context(), channelContextKey, ch)
		ctx = context.WithValue(ctx, plaintextContextKey, plaintext)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionGuard validates the bearer token carried inside the decrypted
// payload, enforces the endpoint's minimum capability level, and charges
// the request against the session's sliding rate window. Endpoint groups
// with an elevated rate budget pass it as rateOverride; zero means the
// session default. It must run inside ChannelGuard.
func (h *Handler) SessionGuard(min protocol.AccessLevel, rateOverride int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := decodePayload[protocol.SessionRequest](r)
			if err != nil {
				writeError(w, h.log, err)
				return
			}
			sess, ok := h.sessions.Validate(body.SessionToken)
			if !ok {
				writeError(w, h.log, protocol.ErrSessionInvalid())
				return
			}
			if !sess.Level.AtLeast(min) {
				writeError(w, h.log, protocol.ErrInsufficientPermissions(min))
				return
			}
			if !h.sessions.RecordRequest(body.SessionToken, rateOverride) {
				metrics.RateLimitRejections.Inc()
				writeError(w, h.log, protocol.ErrRateLimited(h.sessions.RetryAfterSeconds(body.SessionToken)))
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeEncrypted encrypts v with the channel key and writes the envelope.
func (h *Handler) writeEncrypted(w http.ResponseWriter, ch *channel.Channel, status int, v any) {
	envelope, err := crypto.EncryptJSON(v, ch.Key, ch.Cipher)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, status, envelope)
}
