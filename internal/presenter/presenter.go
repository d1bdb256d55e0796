// Package presenter maps call and media state onto a renderable view and
// dispatches user intents back into the call and media layers. It holds no
// business logic of its own.
package presenter

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/call"
	"github.com/carelinkhq/carecall/internal/media"
)

// Screen is the coarse UI surface the call occupies.
type Screen string

const (
	// ScreenHidden means no call UI at all.
	ScreenHidden Screen = "hidden"
	// ScreenIncoming is the accept/decline prompt.
	ScreenIncoming Screen = "incoming"
	// ScreenInCall is the in-call surface with media controls.
	ScreenInCall Screen = "in-call"
)

// Banner is the connection-quality notice overlaid on the in-call surface.
type Banner string

const (
	BannerNone       Banner = ""
	BannerConnecting Banner = "connecting"
	BannerFailed     Banner = "failed"
)

// View is everything the UI needs to render the call surface.
type View struct {
	Screen     Screen
	Banner     Banner
	CallerName string
	Video      bool
	MicOn      bool
	CameraOn   bool
}

// CallControls is the slice of the call session the presenter drives.
type CallControls interface {
	Initiate(ctx context.Context, kind media.Kind) error
	Accept(ctx context.Context) error
	Decline(ctx context.Context) error
	Hangup(ctx context.Context) error
}

// MediaControls is the slice of the media manager the presenter drives.
type MediaControls interface {
	SetMicEnabled(ctx context.Context, on bool) error
	SetCameraEnabled(ctx context.Context, on bool) error
	MicEnabled() bool
	CameraEnabled() bool
}

// Presenter folds call snapshots and connection state into a View and
// pushes each new View to the render callback.
type Presenter struct {
	calls    CallControls
	controls MediaControls
	onRender func(View)
	log      *zerolog.Logger

	mu   sync.Mutex
	snap call.Snapshot
	conn media.ConnState
}

// New builds a Presenter. onRender may be nil when only View polling is
// wanted.
func New(calls CallControls, controls MediaControls, onRender func(View), logger *zerolog.Logger) *Presenter {
	return &Presenter{
		calls:    calls,
		controls: controls,
		onRender: onRender,
		log:      logger,
		snap:     call.Snapshot{Phase: call.PhaseIdle},
	}
}

// OnCallChange is wired to the call session's OnChange observer.
func (p *Presenter) OnCallChange(snap call.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	if snap.Phase != call.PhaseConnected {
		p.conn = ""
	}
	p.mu.Unlock()
	p.render()
}

// OnConnectionChange is wired to the media manager's connection observer.
func (p *Presenter) OnConnectionChange(state media.ConnState) {
	p.mu.Lock()
	p.conn = state
	p.mu.Unlock()
	p.render()
}

// View computes the current renderable state.
func (p *Presenter) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Presenter) viewLocked() View {
	v := View{Screen: ScreenHidden}
	switch p.snap.Phase {
	case call.PhaseRinging:
		v.Screen = ScreenIncoming
		if p.snap.Invite != nil {
			v.CallerName = p.snap.Invite.InitiatorName
			v.Video = p.snap.Invite.Kind.Video()
		}
	case call.PhaseInitiating, call.PhaseConnected:
		v.Screen = ScreenInCall
		v.Video = p.snap.Kind.Video()
		v.MicOn = p.controls.MicEnabled()
		v.CameraOn = p.controls.CameraEnabled()
		switch p.conn {
		case media.ConnConnecting:
			v.Banner = BannerConnecting
		case media.ConnFailed:
			v.Banner = BannerFailed
		}
	}
	return v
}

func (p *Presenter) render() {
	if p.onRender == nil {
		return
	}
	p.mu.Lock()
	v := p.viewLocked()
	p.mu.Unlock()
	p.onRender(v)
}

// StartCall dispatches an outgoing call intent.
func (p *Presenter) StartCall(ctx context.Context, video bool) error {
	kind := media.KindAudio
	if video {
		kind = media.KindVideo
	}
	return p.calls.Initiate(ctx, kind)
}

// Accept answers the incoming call prompt.
func (p *Presenter) Accept(ctx context.Context) error {
	return p.calls.Accept(ctx)
}

// Decline dismisses the incoming call prompt.
func (p *Presenter) Decline(ctx context.Context) error {
	return p.calls.Decline(ctx)
}

// Hangup ends the active call.
func (p *Presenter) Hangup(ctx context.Context) error {
	return p.calls.Hangup(ctx)
}

// ToggleMic flips the microphone and re-renders.
func (p *Presenter) ToggleMic(ctx context.Context) error {
	err := p.controls.SetMicEnabled(ctx, !p.controls.MicEnabled())
	p.render()
	return err
}

// ToggleCamera flips the camera and re-renders.
func (p *Presenter) ToggleCamera(ctx context.Context) error {
	err := p.controls.SetCameraEnabled(ctx, !p.controls.CameraEnabled())
	p.render()
	return err
}
