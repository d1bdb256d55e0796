// Package mediatest provides scriptable in-memory fakes for the media
// transport, rooms, tracks, and surfaces.
package mediatest

import (
	"context"
	"errors"
	"sync"

	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/token"
)

// Transport is a fake media.Transport. Failure fields script the next
// operations; room activity is recorded for assertions.
type Transport struct {
	mu sync.Mutex

	// JoinErr, when set, fails every Join.
	JoinErr error
	// MicErr / CameraErr fail local track creation.
	MicErr    error
	CameraErr error
	// SubscribeFailures is the number of Subscribe calls to fail before
	// succeeding.
	SubscribeFailures int

	rooms []*Room
}

// NewTransport creates a fake transport with no scripted failures.
func NewTransport() *Transport {
	return &Transport{}
}

// Join creates a fake room unless JoinErr is set.
func (t *Transport) Join(_ context.Context, cred token.Credential, cb *media.Callbacks) (media.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.JoinErr != nil {
		return nil, t.JoinErr
	}
	r := &Room{transport: t, Cred: cred, cb: cb}
	t.rooms = append(t.rooms, r)
	return r, nil
}

// Rooms returns every room ever joined, in order.
func (t *Transport) Rooms() []*Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Room, len(t.rooms))
	copy(out, t.rooms)
	return out
}

// LastRoom returns the most recently joined room, or nil.
func (t *Transport) LastRoom() *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rooms) == 0 {
		return nil
	}
	return t.rooms[len(t.rooms)-1]
}

var _ media.Transport = (*Transport)(nil)

// Room is a fake media.Room that records activity and lets tests emit
// remote-participant notifications.
type Room struct {
	transport *Transport
	Cred      token.Credential
	cb        *media.Callbacks

	mu                sync.Mutex
	published         []*LocalTrack
	subscribed        []*RemoteTrack
	subscribeAttempts int
	leaveCount        int
}

// CreateMicTrack acquires a fake microphone track.
func (r *Room) CreateMicTrack(context.Context) (media.LocalTrack, error) {
	r.transport.mu.Lock()
	err := r.transport.MicErr
	r.transport.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &LocalTrack{kind: media.TrackAudio, enabled: true}, nil
}

// CreateCameraTrack acquires a fake camera track.
func (r *Room) CreateCameraTrack(context.Context) (media.LocalTrack, error) {
	r.transport.mu.Lock()
	err := r.transport.CameraErr
	r.transport.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &LocalTrack{kind: media.TrackVideo, enabled: true}, nil
}

// Publish records the published track.
func (r *Room) Publish(_ context.Context, t media.LocalTrack) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return errors.New("unexpected track type")
	}
	r.mu.Lock()
	r.published = append(r.published, lt)
	r.mu.Unlock()
	return nil
}

// Subscribe fails while scripted failures remain, then returns a remote
// track of the requested kind.
func (r *Room) Subscribe(_ context.Context, participantID string, kind media.TrackKind) (media.RemoteTrack, error) {
	r.mu.Lock()
	r.subscribeAttempts++
	r.mu.Unlock()

	r.transport.mu.Lock()
	if r.transport.SubscribeFailures > 0 {
		r.transport.SubscribeFailures--
		r.transport.mu.Unlock()
		return nil, errors.New("simulated subscribe failure")
	}
	r.transport.mu.Unlock()

	remote := &RemoteTrack{kind: kind, participant: participantID}
	r.mu.Lock()
	r.subscribed = append(r.subscribed, remote)
	r.mu.Unlock()
	return remote, nil
}

// Subscribed returns every remote track handed out, in order.
func (r *Room) Subscribed() []*RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RemoteTrack, len(r.subscribed))
	copy(out, r.subscribed)
	return out
}

// Leave counts teardown calls.
func (r *Room) Leave() error {
	r.mu.Lock()
	r.leaveCount++
	r.mu.Unlock()
	return nil
}

// LeaveCount reports how many times Leave ran.
func (r *Room) LeaveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveCount
}

// SubscribeAttempts reports how many Subscribe calls were made.
func (r *Room) SubscribeAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeAttempts
}

// Published returns the local tracks published so far.
func (r *Room) Published() []*LocalTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LocalTrack, len(r.published))
	copy(out, r.published)
	return out
}

// PublishedKinds returns the kinds of published local tracks, in order.
func (r *Room) PublishedKinds() []media.TrackKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]media.TrackKind, 0, len(r.published))
	for _, t := range r.published {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

// SignalConnected emits the transport connected signal, releasing the
// manager's post-join settle wait immediately.
func (r *Room) SignalConnected() {
	if r.cb != nil && r.cb.OnConnectionChange != nil {
		r.cb.OnConnectionChange(media.ConnConnected)
	}
}

// RemotePublishes emits a remote "track published" notification.
func (r *Room) RemotePublishes(participantID string, kind media.TrackKind) {
	if r.cb != nil && r.cb.OnTrackPublished != nil {
		r.cb.OnTrackPublished(participantID, kind)
	}
}

// RemoteUnpublishes emits a remote "track unpublished" notification.
func (r *Room) RemoteUnpublishes(participantID string, kind media.TrackKind) {
	if r.cb != nil && r.cb.OnTrackUnpublished != nil {
		r.cb.OnTrackUnpublished(participantID, kind)
	}
}

// ParticipantLeaves emits a remote "participant left" notification.
func (r *Room) ParticipantLeaves(participantID string) {
	if r.cb != nil && r.cb.OnParticipantLeft != nil {
		r.cb.OnParticipantLeft(participantID)
	}
}

var _ media.Room = (*Room)(nil)

// LocalTrack is a fake local capture track.
type LocalTrack struct {
	mu      sync.Mutex
	kind    media.TrackKind
	enabled bool
	stopped bool

	// EnableErr, when set, fails the next SetEnabled call.
	EnableErr error
}

func (t *LocalTrack) Kind() media.TrackKind { return t.kind }

func (t *LocalTrack) SetEnabled(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EnableErr != nil {
		err := t.EnableErr
		t.EnableErr = nil
		return err
	}
	t.enabled = on
	return nil
}

func (t *LocalTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Enabled reports the current toggle state.
func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Stopped reports whether the track was released.
func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

var _ media.LocalTrack = (*LocalTrack)(nil)

// RemoteTrack is a fake subscribed remote track.
type RemoteTrack struct {
	mu          sync.Mutex
	kind        media.TrackKind
	participant string
	played      bool
	stopped     bool
}

func (t *RemoteTrack) Kind() media.TrackKind { return t.kind }

func (t *RemoteTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.played = true
	return nil
}

func (t *RemoteTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Played reports whether audio playback started.
func (t *RemoteTrack) Played() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.played
}

// Participant returns the id the track was subscribed from.
func (t *RemoteTrack) Participant() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.participant
}

var _ media.RemoteTrack = (*RemoteTrack)(nil)

// Surface is a fake rendering surface with a controllable readiness signal.
type Surface struct {
	mu       sync.Mutex
	ready    chan struct{}
	attached media.Track
	clears   int

	// AttachErrs fails that many Attach calls before succeeding.
	AttachErrs int
}

// NewSurface creates a surface; ready surfaces report readiness
// immediately.
func NewSurface(ready bool) *Surface {
	s := &Surface{ready: make(chan struct{})}
	if ready {
		close(s.ready)
	}
	return s
}

// MarkReady fires the readiness signal.
func (s *Surface) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Surface) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Surface) Attach(t media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AttachErrs > 0 {
		s.AttachErrs--
		return errors.New("simulated attach failure")
	}
	s.attached = t
	return nil
}

func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = nil
	s.clears++
}

// Attached returns the currently bound track, or nil.
func (s *Surface) Attached() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Clears reports how many times the surface was cleared.
func (s *Surface) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

var _ media.Surface = (*Surface)(nil)
