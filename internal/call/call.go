// Package call implements the two-party call lifecycle: a local state
// machine per peer, synchronized only through the chat's signaling channel.
//
// The channel is lossy, unordered, and at-most-once, so every transition is
// written to be correct under duplicate, stale, and self-origin events. The
// peers never share state directly; invitations carry everything the
// responder needs, including its pre-minted credential.
package call

import "errors"

// Phase is the coarse-grained call state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInitiating Phase = "initiating"
	PhaseRinging    Phase = "ringing"
	PhaseConnected  Phase = "connected"
)

var (
	// ErrBusy means an outgoing call was requested while not idle.
	ErrBusy = errors.New("call already in progress")
	// ErrNoInvitation means accept/decline was requested while not ringing.
	ErrNoInvitation = errors.New("no pending invitation")
	// ErrNotInCall means hangup was requested while no call is active.
	ErrNotInCall = errors.New("no active call")
	// ErrInvalidInvitation rejects an inbound invitation that cannot
	// produce a working session.
	ErrInvalidInvitation = errors.New("invalid call invitation")
)
