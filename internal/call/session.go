package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/token"
	"github.com/carelinkhq/carecall/internal/transcript"
	"github.com/carelinkhq/carecall/internal/utils"
)

const defaultJoinTimeout = 30 * time.Second

// MediaSession is the slice of the media manager the state machine drives.
type MediaSession interface {
	Join(ctx context.Context, cred token.Credential, kind media.Kind) error
	Leave()
}

// Snapshot is a read-only copy of the session state, published to the
// OnChange observer after every transition.
type Snapshot struct {
	Phase   Phase
	Kind    media.Kind
	RoomID  string
	PartyID uint32
	// Invite is the pending inbound invitation, set only while ringing.
	Invite *Invitation
}

// Config wires a Session to its collaborators.
type Config struct {
	// ChatID names the signaling channel and the transcript the call
	// summary lands in.
	ChatID string

	// AuthorID, DisplayName, and Role identify the local party in the
	// transcript and in outgoing invitations.
	AuthorID    string
	DisplayName string
	Role        string

	Tokens     token.Service
	Bus        signaling.Bus
	Media      MediaSession
	Transcript transcript.Appender

	// JoinTimeout bounds the asynchronous media join. Zero means the
	// default.
	JoinTimeout time.Duration

	// OnChange observes state transitions. Called outside the session
	// lock, in transition order.
	OnChange func(Snapshot)

	// OnFailure observes fatal call-setup failures that reverted the
	// session to idle.
	OnFailure func(error)

	Logger *zerolog.Logger
}

// Session is one peer's call state machine. All state is local; the only
// coupling to the remote peer is the event traffic on the chat's signaling
// channel. Methods and event handlers serialize on one mutex, so completions
// of in-flight asynchronous work are always checked against the current
// epoch before taking effect.
type Session struct {
	cfg         Config
	log         *zerolog.Logger
	joinTimeout time.Duration

	mu          sync.Mutex
	phase       Phase
	kind        media.Kind
	roomID      string
	partyID     uint32
	pending     *Invitation
	connectedAt time.Time
	// ownRoomID is the room of our most recent outgoing invitation, kept
	// after teardown so late self-echoes stay filtered.
	ownRoomID string
	// epoch invalidates async completions; bumped on every return to idle
	// and on every new outgoing call.
	epoch uint64
	sub   signaling.Subscription
}

// NewSession builds an idle session. Call Start to begin receiving
// signaling events.
func NewSession(cfg Config) *Session {
	jt := cfg.JoinTimeout
	if jt <= 0 {
		jt = defaultJoinTimeout
	}
	return &Session{
		cfg:         cfg,
		log:         cfg.Logger,
		joinTimeout: jt,
		phase:       PhaseIdle,
	}
}

// Start subscribes to the chat's signaling channel and arms the event
// handlers.
func (s *Session) Start(ctx context.Context) error {
	sub, err := s.cfg.Bus.Subscribe(ctx, s.cfg.ChatID)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.ChatID, err)
	}
	sub.On(signaling.EventCallInitiated, s.handleInitiated)
	sub.On(signaling.EventCallResponse, s.handleResponse)
	sub.On(signaling.EventCallEnded, s.handleEnded)

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Close drops the signaling subscription and tears down any live media.
func (s *Session) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	active := s.phase == PhaseConnected
	s.toIdleLocked()
	s.mu.Unlock()

	if active {
		s.cfg.Media.Leave()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// Initiate starts an outgoing call: mints the credential pair for a fresh
// room, broadcasts the invitation, then optimistically joins the room
// without waiting for the remote accept. A failure before the broadcast
// leaves no trace on the channel.
func (s *Session) Initiate(ctx context.Context, kind media.Kind) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.epoch++
	ep := s.epoch
	s.phase = PhaseInitiating
	s.kind = kind
	s.mu.Unlock()
	s.notify()

	roomID := utils.DeriveRoomID(s.cfg.ChatID)
	pair, err := s.cfg.Tokens.Issue(ctx, roomID, string(kind), 0)
	if err != nil {
		s.revertInitiate(ep)
		return fmt.Errorf("issue call credentials: %w", err)
	}

	inv := Invitation{
		SessionToken:  uuid.NewString(),
		RoomID:        roomID,
		Kind:          kind,
		Initiator:     pair.Initiator,
		Responder:     pair.Responder,
		InitiatorID:   pair.Initiator.PartyID,
		InitiatorName: s.cfg.DisplayName,
	}
	if err := s.cfg.Bus.Publish(ctx, s.cfg.ChatID, signaling.EventCallInitiated, inv); err != nil {
		s.revertInitiate(ep)
		return fmt.Errorf("announce call: %w", err)
	}

	s.mu.Lock()
	if s.epoch != ep {
		// Torn down while the announce was in flight.
		s.mu.Unlock()
		return nil
	}
	s.phase = PhaseConnected
	s.roomID = roomID
	s.ownRoomID = roomID
	s.partyID = pair.Initiator.PartyID
	s.connectedAt = time.Now()
	s.mu.Unlock()
	s.notify()

	s.log.Info().Str("room", roomID).Str("kind", string(kind)).Msg("call initiated")
	go s.joinMedia(ep, pair.Initiator, kind)
	return nil
}

func (s *Session) revertInitiate(ep uint64) {
	s.mu.Lock()
	if s.epoch == ep {
		s.toIdleLocked()
	}
	s.mu.Unlock()
	s.notify()
}

// Accept answers the pending invitation: the responder credential minted by
// the initiator becomes the active one, so no further issuance round trip
// is needed.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseRinging || s.pending == nil {
		s.mu.Unlock()
		return ErrNoInvitation
	}
	inv := *s.pending
	s.pending = nil
	s.phase = PhaseConnected
	s.kind = inv.Kind
	s.roomID = inv.RoomID
	s.partyID = inv.Responder.PartyID
	s.connectedAt = time.Now()
	ep := s.epoch
	s.mu.Unlock()
	s.notify()

	if err := s.cfg.Bus.Publish(ctx, s.cfg.ChatID, signaling.EventCallResponse, Response{Accepted: true, RoomID: inv.RoomID}); err != nil {
		// The initiator is already in the room; it will see us join even
		// if the accept never lands.
		s.log.Warn().Err(err).Msg("accept response publish failed")
	}

	s.log.Info().Str("room", inv.RoomID).Msg("call accepted")
	go s.joinMedia(ep, inv.Responder, inv.Kind)
	return nil
}

// Decline refuses the pending invitation. No media session is ever created
// on this path.
func (s *Session) Decline(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseRinging || s.pending == nil {
		s.mu.Unlock()
		return ErrNoInvitation
	}
	inv := *s.pending
	s.toIdleLocked()
	s.mu.Unlock()
	s.notify()

	if err := s.cfg.Bus.Publish(ctx, s.cfg.ChatID, signaling.EventCallResponse, Response{Accepted: false, RoomID: inv.RoomID}); err != nil {
		s.log.Warn().Err(err).Msg("decline response publish failed")
	}
	s.log.Info().Str("room", inv.RoomID).Msg("call declined")
	return nil
}

// Hangup ends the active call: announces call-ended, tears down media, and
// appends the call summary to the transcript. A failed announce never
// blocks local teardown.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseConnected {
		s.mu.Unlock()
		return ErrNotInCall
	}
	kind := s.kind
	roomID := s.roomID
	duration := time.Since(s.connectedAt)
	s.toIdleLocked()
	s.mu.Unlock()
	s.notify()

	s.cfg.Media.Leave()

	if err := s.cfg.Bus.Publish(ctx, s.cfg.ChatID, signaling.EventCallEnded, Ended{RoomID: roomID}); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("call-ended publish failed")
	}

	summary := transcript.CallSummary(kind, duration)
	if err := s.cfg.Transcript.AppendMessage(ctx, s.cfg.ChatID, summary, s.cfg.AuthorID, s.cfg.DisplayName, s.cfg.Role); err != nil {
		s.log.Warn().Err(err).Msg("call summary append failed")
	}
	s.log.Info().Str("room", roomID).Dur("duration", duration).Msg("call ended")
	return nil
}

// handleInitiated processes an inbound invitation. Self-origin broadcasts
// are filtered by room id; a competing invitation while we have our own
// outgoing call resolves deterministically in favor of the lexicographically
// smaller room id.
func (s *Session) handleInitiated(data json.RawMessage) {
	var inv Invitation
	if err := json.Unmarshal(data, &inv); err != nil {
		s.log.Warn().Err(err).Msg("malformed call-initiated payload")
		return
	}
	if err := inv.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("rejected call invitation")
		return
	}

	s.mu.Lock()
	if inv.RoomID == s.ownRoomID || (s.phase != PhaseIdle && inv.InitiatorID == s.partyID) {
		s.mu.Unlock()
		return
	}

	switch s.phase {
	case PhaseIdle:
		s.phase = PhaseRinging
		s.kind = inv.Kind
		s.pending = &inv
		s.mu.Unlock()
		s.notify()
		s.log.Info().Str("room", inv.RoomID).Str("from", inv.InitiatorName).Msg("incoming call")

	case PhaseRinging:
		// Competing rings: keep the deterministic winner.
		if s.pending != nil && inv.RoomID < s.pending.RoomID {
			s.pending = &inv
			s.kind = inv.Kind
			s.mu.Unlock()
			s.notify()
			return
		}
		s.mu.Unlock()

	case PhaseInitiating, PhaseConnected:
		// Glare: both sides called at once. The smaller room id is
		// canonical; the loser silently abandons its own invitation and
		// rings on the inbound one.
		if s.roomID != "" && inv.RoomID < s.roomID {
			s.epoch++
			s.phase = PhaseRinging
			s.kind = inv.Kind
			s.pending = &inv
			s.roomID = ""
			s.partyID = 0
			s.mu.Unlock()
			s.notify()
			s.cfg.Media.Leave()
			s.log.Info().Str("room", inv.RoomID).Msg("yielded to simultaneous call")
			return
		}
		s.mu.Unlock()

	default:
		s.mu.Unlock()
	}
}

// handleResponse processes the remote answer. Only a decline changes
// state: the call dies and media comes down. An accept is informational;
// the initiator is already in the room.
func (s *Session) handleResponse(data json.RawMessage) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.log.Warn().Err(err).Msg("malformed call-response payload")
		return
	}

	s.mu.Lock()
	if s.phase != PhaseInitiating && s.phase != PhaseConnected {
		s.mu.Unlock()
		return
	}
	if resp.RoomID != "" && s.roomID != "" && resp.RoomID != s.roomID {
		// Answer to a call that no longer exists.
		s.mu.Unlock()
		return
	}
	if resp.Accepted {
		s.mu.Unlock()
		s.log.Debug().Str("room", resp.RoomID).Msg("call accepted by peer")
		return
	}
	s.toIdleLocked()
	s.mu.Unlock()
	s.notify()

	s.cfg.Media.Leave()
	s.log.Info().Str("room", resp.RoomID).Msg("call declined by peer")
}

// handleEnded processes a remote hangup. The termination is not echoed
// back and no summary is written; the hanging-up side owns both.
func (s *Session) handleEnded(data json.RawMessage) {
	var ended Ended
	if err := json.Unmarshal(data, &ended); err != nil {
		s.log.Warn().Err(err).Msg("malformed call-ended payload")
		return
	}

	s.mu.Lock()
	if s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	current := s.roomID
	if current == "" && s.pending != nil {
		current = s.pending.RoomID
	}
	if ended.RoomID != "" && current != "" && ended.RoomID != current {
		s.mu.Unlock()
		return
	}
	wasConnected := s.phase == PhaseConnected
	s.toIdleLocked()
	s.mu.Unlock()
	s.notify()

	if wasConnected {
		s.cfg.Media.Leave()
	}
	s.log.Info().Str("room", ended.RoomID).Msg("call ended by peer")
}

// joinMedia runs the media join off the signaling path. A completion whose
// epoch no longer matches belongs to a dead call and is discarded without
// surfacing anything.
func (s *Session) joinMedia(ep uint64, cred token.Credential, kind media.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), s.joinTimeout)
	defer cancel()

	err := s.cfg.Media.Join(ctx, cred, kind)
	if err == nil {
		if !s.currentEpoch(ep) {
			s.cfg.Media.Leave()
		}
		return
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	s.toIdleLocked()
	s.mu.Unlock()
	s.notify()

	// Dismiss the peer's ring; best effort.
	pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pubCancel()
	if pubErr := s.cfg.Bus.Publish(pubCtx, s.cfg.ChatID, signaling.EventCallEnded, Ended{RoomID: roomID}); pubErr != nil {
		s.log.Warn().Err(pubErr).Msg("call-ended publish failed")
	}

	s.log.Error().Err(err).Str("room", roomID).Msg("media join failed")
	if s.cfg.OnFailure != nil {
		s.cfg.OnFailure(err)
	}
}

// toIdleLocked resets to idle and invalidates in-flight async work.
// Requires s.mu held.
func (s *Session) toIdleLocked() {
	s.epoch++
	s.phase = PhaseIdle
	s.kind = ""
	s.roomID = ""
	s.partyID = 0
	s.pending = nil
	s.connectedAt = time.Time{}
}

func (s *Session) currentEpoch(ep uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == ep
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:   s.phase,
		Kind:    s.kind,
		RoomID:  s.roomID,
		PartyID: s.partyID,
	}
	if s.pending != nil {
		inv := *s.pending
		snap.Invite = &inv
	}
	return snap
}

func (s *Session) notify() {
	if s.cfg.OnChange == nil {
		return
	}
	s.cfg.OnChange(s.Snapshot())
}
