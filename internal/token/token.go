// Package token issues and fetches the short-lived media-room credentials a
// call runs on. A single issuance mints one credential per expected
// participant so the responder never needs a second trip to the issuer after
// accepting; its credential travels inside the call invitation.
package token

import (
	"context"
	"errors"
)

// Common issuance errors.
var (
	// ErrIssuance wraps any failure to mint or fetch credentials.
	ErrIssuance = errors.New("credential issuance failed")
	// ErrEmptyRoom is returned when the room id is missing.
	ErrEmptyRoom = errors.New("room id is required")
	// ErrNotConfigured is returned when the issuer's trust material is absent.
	ErrNotConfigured = errors.New("issuer is not configured")
)

// Credential authorizes one party to join and publish in one media room.
type Credential struct {
	Token   string `json:"token"`
	PartyID uint32 `json:"party_id"`
	RoomID  string `json:"room_id"`
}

// Zero reports whether the credential is unset.
func (c Credential) Zero() bool {
	return c.Token == "" && c.PartyID == 0 && c.RoomID == ""
}

// Pair is the two-credential set minted for one call attempt. The responder's
// party id is derived from the initiator's, so the two parties can never
// collide in the room's participant-id space without a coordination
// round-trip.
type Pair struct {
	Initiator Credential
	Responder Credential
	IssuerID  string
}

// Service mints credential pairs for media rooms. Repeated calls for the same
// room mint new, independent credentials; nothing is cached.
type Service interface {
	// Issue returns two distinct publish-capable credentials scoped to
	// roomID. callerPartyID picks the initiator's party id; zero lets the
	// issuer choose one.
	Issue(ctx context.Context, roomID string, callKind string, callerPartyID uint32) (*Pair, error)
}
