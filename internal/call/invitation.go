package call

import (
	"fmt"

	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/token"
)

// Invitation is the immutable value the initiator broadcasts on
// call-initiated. It carries both pre-minted credentials so the responder
// can join the room on accept without a second issuance round trip.
type Invitation struct {
	SessionToken  string           `json:"session_token"`
	RoomID        string           `json:"room_id"`
	Kind          media.Kind       `json:"call_kind"`
	Initiator     token.Credential `json:"initiator_credential"`
	Responder     token.Credential `json:"responder_credential"`
	InitiatorID   uint32           `json:"initiator_party_id"`
	InitiatorName string           `json:"initiator_display_name"`
}

// Validate checks the invariants a usable invitation must satisfy: distinct
// party ids and both credentials scoped to the same room.
func (inv Invitation) Validate() error {
	if inv.RoomID == "" {
		return fmt.Errorf("%w: empty room id", ErrInvalidInvitation)
	}
	if inv.Initiator.Zero() || inv.Responder.Zero() {
		return fmt.Errorf("%w: missing credential", ErrInvalidInvitation)
	}
	if inv.Initiator.PartyID == inv.Responder.PartyID {
		return fmt.Errorf("%w: party ids collide", ErrInvalidInvitation)
	}
	if inv.Initiator.RoomID != inv.RoomID || inv.Responder.RoomID != inv.RoomID {
		return fmt.Errorf("%w: credentials scoped to a different room", ErrInvalidInvitation)
	}
	return nil
}

// Response is the responder's answer to an invitation.
type Response struct {
	Accepted bool   `json:"accepted"`
	RoomID   string `json:"room_id"`
}

// Ended is the payload announcing call termination.
type Ended struct {
	RoomID string `json:"room_id,omitempty"`
}
