package channel

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curanet/nodelink/crypto"
	"github.com/curanet/nodelink/protocol"
)

// Service performs the server side of the phase-1 handshake.
type Service struct {
	cfg   *protocol.Config
	store *Store
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates the phase-1 handshake service. The store is injected
// so tests and the request pipeline share one instance.
func NewService(cfg *protocol.Config, store *Store, log *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, log: log, now: time.Now}
}

// Store returns the channel registry this service populates.
func (s *Service) Store() *Store {
	return s.store
}

// Open validates a channel-open request, performs the ECDH exchange, derives
// the symmetric channel key, and registers the resulting channel. It returns
// the response body and the new channel id, which travels in the
// X-Channel-Id response header.
//
// The symmetric key is derived only after the client's public key and nonce
// have both been validated; the raw shared secret is zeroed before Open
// returns on every path.
func (s *Service) Open(req *protocol.ChannelOpenRequest) (*protocol.ChannelOpenResponse, string, error) {
	now := s.now()

	if req.Version != protocol.Version {
		return nil, "", protocol.NewProtocolError(protocol.CodeUnsupportedVersion,
			"unsupported protocol version", false).
			WithDetail("supported", protocol.Version)
	}

	if !protocol.WithinSkew(req.Timestamp, now, s.cfg.TimestampSkew) {
		return nil, "", protocol.NewProtocolError(protocol.CodeInvalidTimestamp,
			"timestamp outside the accepted window", false)
	}

	if len(req.Nonce) < s.cfg.MinNonceSize {
		return nil, "", protocol.NewProtocolError(protocol.CodeInvalidNonce,
			"nonce missing or too short", false)
	}

	alg := crypto.KeyExchangeAlgorithm(req.KeyExchangeAlgorithm)
	if !crypto.SupportedKeyExchange(alg) {
		return nil, "", protocol.NewProtocolError(protocol.CodeInvalidPublicKey,
			"unsupported key exchange algorithm", true)
	}

	clientPub, err := crypto.ImportPublicKey(req.EphemeralPublicKey, alg)
	if err != nil {
		return nil, "", protocol.NewProtocolError(protocol.CodeInvalidPublicKey,
			"invalid ephemeral public key", false)
	}

	cipherSuite, err := crypto.NegotiateCipher(req.SupportedCiphers)
	if err != nil {
		// The caller can renegotiate with a different cipher list.
		return nil, "", protocol.NewProtocolError(protocol.CodeNoCommonCipher,
			"no common cipher", true)
	}

	serverKey, err := crypto.GenerateEphemeralKeyPair(alg)
	if err != nil {
		return nil, "", err
	}
	serverNonce, err := crypto.GenerateNonce(crypto.HandshakeNonceSize)
	if err != nil {
		return nil, "", err
	}

	sharedSecret, err := crypto.DeriveSharedSecret(serverKey, clientPub)
	if err != nil {
		return nil, "", protocol.NewProtocolError(protocol.CodeInvalidPublicKey,
			"key agreement failed", false)
	}

	var channelKey []byte
	err = crypto.WithSecret(sharedSecret, func(secret []byte) error {
		channelKey, err = crypto.DeriveChannelKey(secret, req.Nonce, serverNonce,
			[]byte(protocol.KeyInfoLabel))
		return err
	})
	if err != nil {
		return nil, "", err
	}

	ch := &Channel{
		ID:          uuid.NewString(),
		Key:         channelKey,
		Cipher:      cipherSuite,
		ClientNonce: req.Nonce,
		ServerNonce: serverNonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.ChannelTTL),
	}
	if err := s.store.Put(ch); err != nil {
		return nil, "", err
	}

	s.log.Info("channel opened",
		"channelId", ch.ID,
		"cipher", string(cipherSuite),
		"keyExchange", string(alg),
		"expiresAt", ch.ExpiresAt)

	return &protocol.ChannelOpenResponse{
		Version:            protocol.Version,
		SelectedCipher:     string(cipherSuite),
		EphemeralPublicKey: crypto.ExportPublicKey(serverKey.PublicKey()),
		Nonce:              serverNonce,
		Timestamp:          now,
	}, ch.ID, nil
}

// DeriveClientKey computes the channel key on the client side of the
// handshake. Both peers pass the client nonce first so the derivations
// agree.
func DeriveClientKey(sharedSecret, clientNonce, serverNonce []byte) ([]byte, error) {
	var key []byte
	err := crypto.WithSecret(sharedSecret, func(secret []byte) error {
		var derr error
		key, derr = crypto.DeriveChannelKey(secret, clientNonce, serverNonce,
			[]byte(protocol.KeyInfoLabel))
		return derr
	})
	return key, err
}
