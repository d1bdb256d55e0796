package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return &logger
}

func TestIssuerMintsDistinctPair(t *testing.T) {
	iss := NewIssuer("devkey", "devsecret-devsecret-devsecret-00", time.Hour, testLogger())

	pair, err := iss.Issue(context.Background(), "chat42-1700000000000", "video", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.Initiator.PartyID == pair.Responder.PartyID {
		t.Fatalf("party ids collide: %d", pair.Initiator.PartyID)
	}
	if pair.Responder.PartyID != pair.Initiator.PartyID+1 {
		t.Errorf("responder party id = %d, want %d", pair.Responder.PartyID, pair.Initiator.PartyID+1)
	}
	if pair.Initiator.RoomID != pair.Responder.RoomID {
		t.Errorf("room ids diverge: %q vs %q", pair.Initiator.RoomID, pair.Responder.RoomID)
	}
	if pair.Initiator.Token == "" || pair.Responder.Token == "" {
		t.Error("expected non-empty tokens")
	}
	if pair.Initiator.Token == pair.Responder.Token {
		t.Error("expected distinct tokens per party")
	}
}

func TestIssuerHonorsCallerPartyID(t *testing.T) {
	iss := NewIssuer("devkey", "devsecret-devsecret-devsecret-00", time.Hour, testLogger())

	pair, err := iss.Issue(context.Background(), "room-1", "audio", 1234)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.Initiator.PartyID != 1234 {
		t.Errorf("initiator party id = %d, want 1234", pair.Initiator.PartyID)
	}
	if pair.Responder.PartyID != 1235 {
		t.Errorf("responder party id = %d, want 1235", pair.Responder.PartyID)
	}
}

func TestIssuerRejectsEmptyRoom(t *testing.T) {
	iss := NewIssuer("devkey", "devsecret-devsecret-devsecret-00", time.Hour, testLogger())

	_, err := iss.Issue(context.Background(), "", "audio", 0)
	if !errors.Is(err, ErrIssuance) || !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("expected issuance/empty-room error, got %v", err)
	}
}

func TestIssuerRejectsMissingTrustMaterial(t *testing.T) {
	iss := NewIssuer("", "", time.Hour, testLogger())

	_, err := iss.Issue(context.Background(), "room-1", "audio", 0)
	if !errors.Is(err, ErrIssuance) || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected issuance/not-configured error, got %v", err)
	}
}
