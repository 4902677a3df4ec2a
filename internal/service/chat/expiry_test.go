package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cheongchun/ai-core/internal/config"
	model "github.com/cheongchun/ai-core/internal/model/chat"
)

func TestIdleSessionsExpire(t *testing.T) {
	svc := NewService(config.SessionConfig{TranscriptIdleTTL: 30 * time.Minute})
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	svc.EnsureSession(ctx, "old", "1")
	clock = clock.Add(20 * time.Minute)
	svc.EnsureSession(ctx, "fresh", "1")
	if err := svc.SaveMessage(ctx, "1", model.Message{SessionID: "fresh", Content: "안녕"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	clock = clock.Add(15 * time.Minute)

	if _, err := svc.LoadTranscript(ctx, "1", "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected idle session to expire, got %v", err)
	}
	transcript, err := svc.LoadTranscript(ctx, "1", "fresh")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(transcript) != 1 {
		t.Fatalf("expected the active session to survive, got %+v", transcript)
	}
	if len(svc.entries) != 1 || svc.order.Len() != 1 {
		t.Fatalf("expected one stored session, got %d/%d", len(svc.entries), svc.order.Len())
	}
}

func TestExpiredSessionRestartsEmpty(t *testing.T) {
	svc := NewService(config.SessionConfig{TranscriptIdleTTL: time.Minute})
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	svc.EnsureSession(ctx, "s", "1")
	svc.SaveMessage(ctx, "1", model.Message{SessionID: "s", Content: "첫 대화"})

	clock = clock.Add(2 * time.Minute)
	session, err := svc.EnsureSession(ctx, "s", "1")
	if err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if !session.CreatedAt.Equal(clock) {
		t.Fatalf("expected a new session, got %+v", session)
	}

	transcript, _ := svc.LoadTranscript(ctx, "1", "s")
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %+v", transcript)
	}
}
