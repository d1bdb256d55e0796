// Package media manages one peer's live connection to a media room: joining
// with an issued credential, publishing local microphone/camera tracks,
// subscribing to and rendering remote tracks, and tearing everything down.
// The flaky asynchronous steps (track creation, remote subscription, surface
// binding) are retried with a small bounded policy.
package media

import (
	"context"
	"errors"

	"github.com/carelinkhq/carecall/internal/token"
)

// Kind selects the media profile of a call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Video reports whether the kind includes camera video.
func (k Kind) Video() bool {
	return k == KindVideo
}

// Label returns the human-facing name used in transcripts.
func (k Kind) Label() string {
	if k.Video() {
		return "Video"
	}
	return "Voice"
}

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// ConnState is the coarse connection-quality state of a session.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnFailed     ConnState = "failed"
)

// Session errors.
var (
	// ErrJoin wraps a failure to reach the media transport or a rejected
	// credential.
	ErrJoin = errors.New("media room join failed")
	// ErrTrackAcquisition wraps hardware or permission failures while
	// creating a local track.
	ErrTrackAcquisition = errors.New("local track acquisition failed")
	// ErrSubscription wraps a remote track subscribe or render failure
	// that exhausted its retries. Non-fatal to the call.
	ErrSubscription = errors.New("remote track subscription failed")
	// ErrAlreadyJoined is returned when a session is already active.
	ErrAlreadyJoined = errors.New("media session already active")
	// ErrStale marks an async result that arrived after the owning
	// session ended. Callers discard it silently.
	ErrStale = errors.New("stale media completion")
)

// Track is any media track handle.
type Track interface {
	Kind() TrackKind
}

// LocalTrack is a published local capture track.
type LocalTrack interface {
	Track

	// SetEnabled pauses or resumes the track without unpublishing it.
	SetEnabled(on bool) error

	// Stop releases the underlying capture device.
	Stop() error
}

// RemoteTrack is a subscribed remote track.
type RemoteTrack interface {
	Track

	// Play starts audio playback. Video tracks are rendered by attaching
	// them to a Surface instead.
	Play() error

	// Stop ends playback or rendering.
	Stop() error
}

// Surface is a rendering target for a video track (a UI view, a file sink, a
// test probe).
type Surface interface {
	// Ready is closed once the surface can accept a stream. Callers gate
	// on it with a bounded fallback timeout.
	Ready() <-chan struct{}

	// Attach binds a track to the surface, replacing any previous one.
	Attach(t Track) error

	// Clear removes the current binding.
	Clear()
}

// Callbacks receives asynchronous room notifications. All callbacks are
// invoked from the transport's event goroutine; they must not block.
type Callbacks struct {
	// OnTrackPublished fires when a remote participant publishes a track
	// of the given kind.
	OnTrackPublished func(participantID string, kind TrackKind)

	// OnTrackUnpublished fires when a remote participant stops publishing.
	OnTrackUnpublished func(participantID string, kind TrackKind)

	// OnParticipantLeft fires when a remote participant disconnects.
	OnParticipantLeft func(participantID string)

	// OnConnectionChange reports connection-quality transitions.
	OnConnectionChange func(state ConnState)
}

// Room is one live connection to a media room.
type Room interface {
	// CreateMicTrack acquires the microphone.
	CreateMicTrack(ctx context.Context) (LocalTrack, error)

	// CreateCameraTrack acquires the camera.
	CreateCameraTrack(ctx context.Context) (LocalTrack, error)

	// Publish announces a local track to the room.
	Publish(ctx context.Context, t LocalTrack) error

	// Subscribe attaches to a remote participant's track of the given
	// kind.
	Subscribe(ctx context.Context, participantID string, kind TrackKind) (RemoteTrack, error)

	// Leave disconnects from the room. Idempotent.
	Leave() error
}

// Transport abstracts the WebRTC-capable media client. Callbacks are
// registered before the join completes so no early remote publish is missed.
type Transport interface {
	Join(ctx context.Context, cred token.Credential, cb *Callbacks) (Room, error)
}
