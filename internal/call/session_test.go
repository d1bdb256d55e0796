package call_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carelinkhq/carecall/internal/call"
	"github.com/carelinkhq/carecall/internal/log"
	"github.com/carelinkhq/carecall/internal/media"
	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/token"
)

// fakeMedia records joins and leaves without touching any transport.
type fakeMedia struct {
	mu      sync.Mutex
	joinErr error
	joins   []token.Credential
	leaves  int
}

func (f *fakeMedia) Join(_ context.Context, cred token.Credential, _ media.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, cred)
	return nil
}

func (f *fakeMedia) Leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
}

func (f *fakeMedia) Joins() []token.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]token.Credential, len(f.joins))
	copy(out, f.joins)
	return out
}

func (f *fakeMedia) Leaves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

// fakeTranscript collects appended messages.
type fakeTranscript struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeTranscript) AppendMessage(_ context.Context, _, text, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
	return nil
}

func (f *fakeTranscript) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// failingTokens simulates an unreachable token service.
type failingTokens struct{}

func (failingTokens) Issue(context.Context, string, string, uint32) (*token.Pair, error) {
	return nil, errors.New("token service unreachable")
}

type peer struct {
	session    *call.Session
	media      *fakeMedia
	transcript *fakeTranscript
	states     chan call.Snapshot
	failures   chan error
}

func newPeer(t *testing.T, hub *signaling.Hub, name, role string) *peer {
	t.Helper()
	p := &peer{
		media:      &fakeMedia{},
		transcript: &fakeTranscript{},
		states:     make(chan call.Snapshot, 32),
		failures:   make(chan error, 4),
	}
	p.session = call.NewSession(call.Config{
		ChatID:      "chat-7",
		AuthorID:    name,
		DisplayName: name,
		Role:        role,
		Tokens:      token.NewIssuer("test-key", "devsecret-devsecret-devsecret-00", time.Hour, log.Discard()),
		Bus:         hub,
		Media:       p.media,
		Transcript:  p.transcript,
		OnChange:    func(s call.Snapshot) { p.states <- s },
		OnFailure:   func(err error) { p.failures <- err },
		Logger:      log.Discard(),
	})
	if err := p.session.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Cleanup(func() { _ = p.session.Close() })
	return p
}

func mustPhase(t *testing.T, p *peer, want call.Phase) call.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-p.states:
			if snap.Phase == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %q (now %q)", want, p.session.Snapshot().Phase)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestVideoCallAcceptAndHangup(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")
	bob := newPeer(t, hub, "bob", "client")

	if err := alice.session.Initiate(context.Background(), media.KindVideo); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mustPhase(t, alice, call.PhaseInitiating)
	aliceSnap := mustPhase(t, alice, call.PhaseConnected)

	bobSnap := mustPhase(t, bob, call.PhaseRinging)
	if bobSnap.Invite == nil {
		t.Fatal("ringing snapshot carries no invitation")
	}
	inv := *bobSnap.Invite
	if inv.Initiator.PartyID == inv.Responder.PartyID {
		t.Fatal("credential party ids collide")
	}
	if inv.Initiator.RoomID != inv.RoomID || inv.Responder.RoomID != inv.RoomID {
		t.Fatal("credentials reference a different room")
	}
	if inv.InitiatorName != "alice" {
		t.Fatalf("initiator name = %q", inv.InitiatorName)
	}

	if err := bob.session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	bobSnap = mustPhase(t, bob, call.PhaseConnected)
	if bobSnap.Invite != nil {
		t.Fatal("pending invitation survived accept")
	}
	if bobSnap.PartyID != inv.Responder.PartyID {
		t.Fatalf("bob party id = %d, want responder id %d", bobSnap.PartyID, inv.Responder.PartyID)
	}
	if aliceSnap.PartyID != inv.Initiator.PartyID {
		t.Fatalf("alice party id = %d, want initiator id %d", aliceSnap.PartyID, inv.Initiator.PartyID)
	}

	waitUntil(t, func() bool { return len(alice.media.Joins()) == 1 }, "alice never joined media")
	waitUntil(t, func() bool { return len(bob.media.Joins()) == 1 }, "bob never joined media")
	if got := bob.media.Joins()[0]; got != inv.Responder {
		t.Fatalf("bob joined with %+v, want responder credential", got)
	}

	if err := bob.session.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	mustPhase(t, bob, call.PhaseIdle)
	mustPhase(t, alice, call.PhaseIdle)

	waitUntil(t, func() bool { return bob.media.Leaves() >= 1 }, "bob media never torn down")
	waitUntil(t, func() bool { return alice.media.Leaves() >= 1 }, "alice media never torn down")

	// Exactly one summary line, written by the hanging-up side.
	waitUntil(t, func() bool { return len(bob.transcript.Lines()) == 1 }, "no call summary appended")
	if len(alice.transcript.Lines()) != 0 {
		t.Fatalf("remote side appended %d summary lines", len(alice.transcript.Lines()))
	}
	line := bob.transcript.Lines()[0]
	if want := "Video call ended"; len(line) < len(want) || line[:len(want)] != want {
		t.Fatalf("summary line = %q", line)
	}
}

func TestDeclineRevertsInitiator(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")
	bob := newPeer(t, hub, "bob", "client")

	if err := alice.session.Initiate(context.Background(), media.KindAudio); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mustPhase(t, alice, call.PhaseConnected)
	mustPhase(t, bob, call.PhaseRinging)

	if err := bob.session.Decline(context.Background()); err != nil {
		t.Fatalf("decline: %v", err)
	}
	bobSnap := mustPhase(t, bob, call.PhaseIdle)
	if bobSnap.Invite != nil {
		t.Fatal("pending invitation survived decline")
	}
	mustPhase(t, alice, call.PhaseIdle)

	waitUntil(t, func() bool { return alice.media.Leaves() >= 1 }, "initiator media never torn down")
	if got := len(bob.media.Joins()); got != 0 {
		t.Fatalf("decliner joined media %d times", got)
	}
	if got := len(bob.transcript.Lines()) + len(alice.transcript.Lines()); got != 0 {
		t.Fatalf("decline produced %d transcript lines", got)
	}
}

func TestIssuanceFailurePublishesNothing(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")
	bob := newPeer(t, hub, "bob", "client")

	failing := call.NewSession(call.Config{
		ChatID:      "chat-7",
		AuthorID:    "carol",
		DisplayName: "carol",
		Role:        "provider",
		Tokens:      failingTokens{},
		Bus:         hub,
		Media:       &fakeMedia{},
		Transcript:  &fakeTranscript{},
		Logger:      log.Discard(),
	})
	if err := failing.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer failing.Close()

	err := failing.Initiate(context.Background(), media.KindVideo)
	if err == nil {
		t.Fatal("expected issuance failure")
	}
	if got := failing.Snapshot().Phase; got != call.PhaseIdle {
		t.Fatalf("phase = %q, want idle after failed issuance", got)
	}

	time.Sleep(20 * time.Millisecond)
	select {
	case snap := <-bob.states:
		t.Fatalf("peer observed %q despite failed issuance", snap.Phase)
	default:
	}
	_ = alice
}

func TestSelfOriginInvitationIgnored(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")

	if err := alice.session.Initiate(context.Background(), media.KindAudio); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mustPhase(t, alice, call.PhaseInitiating)
	mustPhase(t, alice, call.PhaseConnected)

	// The hub delivered alice's own broadcast back to her; she must not
	// start ringing on it.
	time.Sleep(20 * time.Millisecond)
	if got := alice.session.Snapshot().Phase; got != call.PhaseConnected {
		t.Fatalf("phase = %q, want connected", got)
	}
}

func TestMediaJoinFailureRevertsAndNotifies(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")
	bob := newPeer(t, hub, "bob", "client")
	alice.media.joinErr = errors.New("room rejected credential")

	if err := alice.session.Initiate(context.Background(), media.KindVideo); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mustPhase(t, alice, call.PhaseConnected)
	mustPhase(t, alice, call.PhaseIdle)

	select {
	case <-alice.failures:
	case <-time.After(2 * time.Second):
		t.Fatal("failure never surfaced")
	}

	// The peer's ring is dismissed by the cleanup call-ended.
	mustPhase(t, bob, call.PhaseRinging)
	mustPhase(t, bob, call.PhaseIdle)
}

func TestCallEndedWhileIdleIsNoOp(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")

	if err := hub.Publish(context.Background(), "chat-7", signaling.EventCallEnded, call.Ended{RoomID: "chat-7-123"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := alice.session.Snapshot().Phase; got != call.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
	select {
	case snap := <-alice.states:
		t.Fatalf("unexpected transition to %q", snap.Phase)
	default:
	}
}

func TestHangupWhileIdleRejected(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")

	if err := alice.session.Hangup(context.Background()); !errors.Is(err, call.ErrNotInCall) {
		t.Fatalf("err = %v, want ErrNotInCall", err)
	}
	if err := alice.session.Accept(context.Background()); !errors.Is(err, call.ErrNoInvitation) {
		t.Fatalf("err = %v, want ErrNoInvitation", err)
	}
}

func TestSimultaneousInitiateYieldsToSmallerRoom(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")

	if err := alice.session.Initiate(context.Background(), media.KindAudio); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mustPhase(t, alice, call.PhaseConnected)

	// Room id "chat-7-0..." sorts below any freshly derived one, so the
	// inbound invitation is canonical and alice must yield.
	competing := call.Invitation{
		SessionToken: "s",
		RoomID:       "chat-7-0000000000000",
		Kind:         media.KindAudio,
		Initiator:    token.Credential{Token: "t1", PartyID: 900, RoomID: "chat-7-0000000000000"},
		Responder:    token.Credential{Token: "t2", PartyID: 901, RoomID: "chat-7-0000000000000"},
		InitiatorID:  900,
	}
	if err := hub.Publish(context.Background(), "chat-7", signaling.EventCallInitiated, competing); err != nil {
		t.Fatalf("publish: %v", err)
	}

	snap := mustPhase(t, alice, call.PhaseRinging)
	if snap.Invite == nil || snap.Invite.RoomID != competing.RoomID {
		t.Fatalf("ringing on %+v, want competing invitation", snap.Invite)
	}
	waitUntil(t, func() bool { return alice.media.Leaves() >= 1 }, "loser never abandoned its own media")
}

func TestSimultaneousInitiateIgnoresLargerRoom(t *testing.T) {
	hub := signaling.NewHub(log.Discard())
	alice := newPeer(t, hub, "alice", "provider")

	if err := alice.session.Initiate(context.Background(), media.KindAudio); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	snap := mustPhase(t, alice, call.PhaseConnected)

	// "chat-7-9..." sorts above any derived room id; our own call stays
	// canonical.
	competing := call.Invitation{
		SessionToken: "s",
		RoomID:       "chat-7-9999999999999",
		Kind:         media.KindAudio,
		Initiator:    token.Credential{Token: "t1", PartyID: 900, RoomID: "chat-7-9999999999999"},
		Responder:    token.Credential{Token: "t2", PartyID: 901, RoomID: "chat-7-9999999999999"},
		InitiatorID:  900,
	}
	if err := hub.Publish(context.Background(), "chat-7", signaling.EventCallInitiated, competing); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	got := alice.session.Snapshot()
	if got.Phase != call.PhaseConnected || got.RoomID != snap.RoomID {
		t.Fatalf("state changed to %q/%q, want connected in own room", got.Phase, got.RoomID)
	}
}
