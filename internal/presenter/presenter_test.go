package presenter

import (
	"context"
	"testing"

	"github.com/carelinkhq/carecall/internal/call"
	"github.com/carelinkhq/carecall/internal/log"
	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/token"
)

type fakeCalls struct {
	initiated []media.Kind
	accepted  int
	declined  int
	hungUp    int
}

func (f *fakeCalls) Initiate(_ context.Context, kind media.Kind) error {
	f.initiated = append(f.initiated, kind)
	return nil
}
func (f *fakeCalls) Accept(context.Context) error  { f.accepted++; return nil }
func (f *fakeCalls) Decline(context.Context) error { f.declined++; return nil }
func (f *fakeCalls) Hangup(context.Context) error  { f.hungUp++; return nil }

type fakeControls struct {
	mic    bool
	camera bool
}

func (f *fakeControls) SetMicEnabled(_ context.Context, on bool) error    { f.mic = on; return nil }
func (f *fakeControls) SetCameraEnabled(_ context.Context, on bool) error { f.camera = on; return nil }
func (f *fakeControls) MicEnabled() bool                                  { return f.mic }
func (f *fakeControls) CameraEnabled() bool                               { return f.camera }

func newPresenter() (*Presenter, *fakeCalls, *fakeControls, *[]View) {
	calls := &fakeCalls{}
	controls := &fakeControls{mic: true}
	var views []View
	p := New(calls, controls, func(v View) { views = append(views, v) }, log.Discard())
	return p, calls, controls, &views
}

func TestIdleIsHidden(t *testing.T) {
	p, _, _, _ := newPresenter()
	if got := p.View().Screen; got != ScreenHidden {
		t.Fatalf("screen = %q, want hidden", got)
	}
}

func TestRingingShowsIncomingPrompt(t *testing.T) {
	p, _, _, _ := newPresenter()

	p.OnCallChange(call.Snapshot{
		Phase: call.PhaseRinging,
		Kind:  media.KindVideo,
		Invite: &call.Invitation{
			RoomID:        "chat-1-42",
			Kind:          media.KindVideo,
			Initiator:     token.Credential{Token: "t", PartyID: 1, RoomID: "chat-1-42"},
			Responder:     token.Credential{Token: "t", PartyID: 2, RoomID: "chat-1-42"},
			InitiatorName: "Dr. Reyes",
		},
	})

	v := p.View()
	if v.Screen != ScreenIncoming {
		t.Fatalf("screen = %q, want incoming", v.Screen)
	}
	if v.CallerName != "Dr. Reyes" || !v.Video {
		t.Fatalf("view = %+v, want video call from Dr. Reyes", v)
	}
}

func TestConnectedShowsInCallWithBanner(t *testing.T) {
	p, _, controls, _ := newPresenter()
	controls.camera = true

	p.OnCallChange(call.Snapshot{Phase: call.PhaseConnected, Kind: media.KindVideo, RoomID: "r"})
	p.OnConnectionChange(media.ConnConnecting)

	v := p.View()
	if v.Screen != ScreenInCall || v.Banner != BannerConnecting {
		t.Fatalf("view = %+v, want in-call with connecting banner", v)
	}
	if !v.MicOn || !v.CameraOn {
		t.Fatalf("view = %+v, want mic and camera on", v)
	}

	p.OnConnectionChange(media.ConnConnected)
	if got := p.View().Banner; got != BannerNone {
		t.Fatalf("banner = %q, want none once connected", got)
	}

	p.OnConnectionChange(media.ConnFailed)
	if got := p.View().Banner; got != BannerFailed {
		t.Fatalf("banner = %q, want failed", got)
	}
}

func TestReturnToIdleHidesAndClearsBanner(t *testing.T) {
	p, _, _, views := newPresenter()

	p.OnCallChange(call.Snapshot{Phase: call.PhaseConnected, Kind: media.KindAudio, RoomID: "r"})
	p.OnConnectionChange(media.ConnFailed)
	p.OnCallChange(call.Snapshot{Phase: call.PhaseIdle})

	v := p.View()
	if v.Screen != ScreenHidden || v.Banner != BannerNone {
		t.Fatalf("view = %+v, want hidden with no banner", v)
	}
	if len(*views) == 0 {
		t.Fatal("render callback never invoked")
	}
}

func TestIntentDispatch(t *testing.T) {
	p, calls, controls, _ := newPresenter()
	ctx := context.Background()

	if err := p.StartCall(ctx, true); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := p.StartCall(ctx, false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if len(calls.initiated) != 2 || calls.initiated[0] != media.KindVideo || calls.initiated[1] != media.KindAudio {
		t.Fatalf("initiated = %v", calls.initiated)
	}

	if err := p.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := p.Decline(ctx); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if err := p.Hangup(ctx); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if calls.accepted != 1 || calls.declined != 1 || calls.hungUp != 1 {
		t.Fatalf("dispatch counts = %+v", calls)
	}

	if err := p.ToggleMic(ctx); err != nil {
		t.Fatalf("ToggleMic: %v", err)
	}
	if controls.mic {
		t.Fatal("mic still on after toggle")
	}
	if err := p.ToggleCamera(ctx); err != nil {
		t.Fatalf("ToggleCamera: %v", err)
	}
	if !controls.camera {
		t.Fatal("camera still off after toggle")
	}
}
