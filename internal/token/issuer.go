package token

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/rs/zerolog"
)

// DefaultTTL is the validity window for minted credentials.
const DefaultTTL = time.Hour

// Issuer mints credential pairs locally using the media provider's API key
// and secret. It implements Service.
type Issuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	log       *zerolog.Logger
}

// NewIssuer creates an issuer. ttl <= 0 falls back to DefaultTTL.
func NewIssuer(apiKey, apiSecret string, ttl time.Duration, logger *zerolog.Logger) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
		log:       logger,
	}
}

// Issue mints two publish-capable room tokens. The initiator's party id is
// callerPartyID when non-zero, otherwise random; the responder's is always
// initiator+1.
func (i *Issuer) Issue(_ context.Context, roomID string, callKind string, callerPartyID uint32) (*Pair, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: %w", ErrIssuance, ErrEmptyRoom)
	}
	if i.apiKey == "" || i.apiSecret == "" {
		return nil, fmt.Errorf("%w: %w", ErrIssuance, ErrNotConfigured)
	}

	initiatorID := callerPartyID
	if initiatorID == 0 {
		initiatorID = rand.Uint32N(1_000_000) + 1
	}
	responderID := initiatorID + 1

	initiatorToken, err := i.mint(roomID, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: mint initiator token: %w", ErrIssuance, err)
	}
	responderToken, err := i.mint(roomID, responderID)
	if err != nil {
		return nil, fmt.Errorf("%w: mint responder token: %w", ErrIssuance, err)
	}

	i.log.Debug().
		Str("room_id", roomID).
		Str("call_kind", callKind).
		Uint32("initiator_party", initiatorID).
		Uint32("responder_party", responderID).
		Msg("credential pair issued")

	return &Pair{
		Initiator: Credential{Token: initiatorToken, PartyID: initiatorID, RoomID: roomID},
		Responder: Credential{Token: responderToken, PartyID: responderID, RoomID: roomID},
		IssuerID:  i.apiKey,
	}, nil
}

func (i *Issuer) mint(roomID string, partyID uint32) (string, error) {
	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomID,
	}
	at.SetVideoGrant(grant).
		SetIdentity(PartyIdentity(partyID)).
		SetValidFor(i.ttl)

	return at.ToJWT()
}

// PartyIdentity maps a numeric party id to the identity string used inside
// the media room.
func PartyIdentity(partyID uint32) string {
	return fmt.Sprintf("party-%d", partyID)
}

var _ Service = (*Issuer)(nil)
