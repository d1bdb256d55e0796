// Package livekit adapts a LiveKit room connection to the media transport
// interfaces.
package livekit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/token"
)

const defaultSubscribeTimeout = 10 * time.Second

// Transport connects to LiveKit rooms over websocket using minted join
// tokens.
type Transport struct {
	url              string
	subscribeTimeout time.Duration
	log              *zerolog.Logger
}

// New creates a Transport for the given LiveKit websocket URL.
func New(url string, logger *zerolog.Logger) *Transport {
	return &Transport{
		url:              url,
		subscribeTimeout: defaultSubscribeTimeout,
		log:              logger,
	}
}

// Join connects with the credential's token. Remote tracks are not
// auto-subscribed; Subscribe opts in per participant so the session manager
// controls rendering order.
func (t *Transport) Join(ctx context.Context, cred token.Credential, cb *media.Callbacks) (media.Room, error) {
	r := &room{
		transport: t,
		log:       t.log,
		waiters:   make(map[subKey]chan *remoteTrack),
	}

	roomCB := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if cb.OnTrackPublished != nil {
					cb.OnTrackPublished(rp.Identity(), trackKind(pub.Kind()))
				}
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if cb.OnTrackUnpublished != nil {
					cb.OnTrackUnpublished(rp.Identity(), trackKind(pub.Kind()))
				}
			},
			OnTrackSubscribed: func(tr *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.resolveWaiter(rp.Identity(), pub, tr)
			},
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			if cb.OnParticipantLeft != nil {
				cb.OnParticipantLeft(rp.Identity())
			}
		},
		OnReconnecting: func() {
			if cb.OnConnectionChange != nil {
				cb.OnConnectionChange(media.ConnConnecting)
			}
		},
		OnReconnected: func() {
			if cb.OnConnectionChange != nil {
				cb.OnConnectionChange(media.ConnConnected)
			}
		},
		OnDisconnected: func() {
			if cb.OnConnectionChange != nil {
				cb.OnConnectionChange(media.ConnFailed)
			}
		},
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(t.url, cred.Token, roomCB, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return nil, fmt.Errorf("connect to room %s: %w", cred.RoomID, err)
	}
	r.lk = lkRoom

	if cb.OnConnectionChange != nil {
		cb.OnConnectionChange(media.ConnConnected)
	}
	t.log.Debug().Str("room", cred.RoomID).Msg("joined livekit room")
	return r, nil
}

var _ media.Transport = (*Transport)(nil)

type subKey struct {
	participant string
	kind        media.TrackKind
}

type room struct {
	transport *Transport
	lk        *lksdk.Room
	log       *zerolog.Logger

	mu      sync.Mutex
	waiters map[subKey]chan *remoteTrack
}

// CreateMicTrack prepares an Opus sample track for the local microphone.
func (r *room) CreateMicTrack(context.Context) (media.LocalTrack, error) {
	sample, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	})
	if err != nil {
		return nil, fmt.Errorf("create microphone track: %w", err)
	}
	return &localTrack{room: r, kind: media.TrackAudio, sample: sample, name: "microphone"}, nil
}

// CreateCameraTrack prepares a VP8 sample track for the local camera.
func (r *room) CreateCameraTrack(context.Context) (media.LocalTrack, error) {
	sample, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	})
	if err != nil {
		return nil, fmt.Errorf("create camera track: %w", err)
	}
	return &localTrack{room: r, kind: media.TrackVideo, sample: sample, name: "camera"}, nil
}

// Publish announces a locally created track to the room.
func (r *room) Publish(_ context.Context, t media.LocalTrack) error {
	lt, ok := t.(*localTrack)
	if !ok {
		return fmt.Errorf("publish: track was not created by this room")
	}
	pub, err := r.lk.LocalParticipant.PublishTrack(lt.sample, &lksdk.TrackPublicationOptions{
		Name: lt.name,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", lt.name, err)
	}
	lt.mu.Lock()
	lt.pub = pub
	lt.mu.Unlock()
	return nil
}

// Subscribe opts in to a participant's track of the given kind and waits for
// the media to arrive.
func (r *room) Subscribe(ctx context.Context, participantID string, kind media.TrackKind) (media.RemoteTrack, error) {
	pub := r.findPublication(participantID, kind)
	if pub == nil {
		return nil, fmt.Errorf("no %s publication from %s", kind, participantID)
	}

	key := subKey{participant: participantID, kind: kind}
	ch := make(chan *remoteTrack, 1)
	r.mu.Lock()
	r.waiters[key] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, key)
		r.mu.Unlock()
	}()

	if err := pub.SetSubscribed(true); err != nil {
		return nil, fmt.Errorf("subscribe to %s from %s: %w", kind, participantID, err)
	}

	select {
	case remote := <-ch:
		return remote, nil
	case <-time.After(r.transport.subscribeTimeout):
		_ = pub.SetSubscribed(false)
		return nil, fmt.Errorf("timed out waiting for %s media from %s", kind, participantID)
	case <-ctx.Done():
		_ = pub.SetSubscribed(false)
		return nil, ctx.Err()
	}
}

func (r *room) findPublication(participantID string, kind media.TrackKind) *lksdk.RemoteTrackPublication {
	for _, rp := range r.lk.GetRemoteParticipants() {
		if rp.Identity() != participantID {
			continue
		}
		for _, pub := range rp.TrackPublications() {
			remote, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if trackKind(remote.Kind()) == kind {
				return remote
			}
		}
	}
	return nil
}

func (r *room) resolveWaiter(participantID string, pub *lksdk.RemoteTrackPublication, tr *webrtc.TrackRemote) {
	key := subKey{participant: participantID, kind: trackKind(pub.Kind())}
	r.mu.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.mu.Unlock()
	if !ok {
		// Subscription was abandoned before the media arrived.
		_ = pub.SetSubscribed(false)
		return
	}
	ch <- &remoteTrack{kind: key.kind, pub: pub, track: tr, log: r.log, done: make(chan struct{})}
}

// Leave disconnects from the room.
func (r *room) Leave() error {
	r.lk.Disconnect()
	return nil
}

var _ media.Room = (*room)(nil)

type localTrack struct {
	room   *room
	kind   media.TrackKind
	sample *lksdk.LocalSampleTrack
	name   string

	mu  sync.Mutex
	pub *lksdk.LocalTrackPublication
}

func (t *localTrack) Kind() media.TrackKind { return t.kind }

// SetEnabled mutes or unmutes the published track.
func (t *localTrack) SetEnabled(on bool) error {
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("%s is not published", t.name)
	}
	pub.SetMuted(!on)
	return nil
}

// Stop unpublishes the track.
func (t *localTrack) Stop() error {
	t.mu.Lock()
	pub := t.pub
	t.pub = nil
	t.mu.Unlock()
	if pub == nil {
		return nil
	}
	if err := t.room.lk.LocalParticipant.UnpublishTrack(pub.SID()); err != nil {
		return fmt.Errorf("unpublish %s: %w", t.name, err)
	}
	return nil
}

var _ media.LocalTrack = (*localTrack)(nil)

type remoteTrack struct {
	kind  media.TrackKind
	pub   *lksdk.RemoteTrackPublication
	track *webrtc.TrackRemote
	log   *zerolog.Logger

	once sync.Once
	done chan struct{}
}

func (t *remoteTrack) Kind() media.TrackKind { return t.kind }

// Play drains incoming RTP so the stream keeps flowing. Rendering is the
// caller's concern; the drain keeps the subscription alive until Stop.
func (t *remoteTrack) Play() error {
	go func() {
		buf := make([]byte, 1500)
		for {
			select {
			case <-t.done:
				return
			default:
			}
			if _, _, err := t.track.Read(buf); err != nil {
				if err != io.EOF {
					t.log.Debug().Err(err).Msg("remote track read ended")
				}
				return
			}
		}
	}()
	return nil
}

// Stop halts playback and drops the subscription.
func (t *remoteTrack) Stop() error {
	t.once.Do(func() { close(t.done) })
	return t.pub.SetSubscribed(false)
}

var _ media.RemoteTrack = (*remoteTrack)(nil)

func trackKind(k lksdk.TrackKind) media.TrackKind {
	if k == lksdk.TrackKindVideo {
		return media.TrackVideo
	}
	return media.TrackAudio
}
