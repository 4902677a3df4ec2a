package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/service/ai"
	"github.com/cheongchun/ai-core/internal/service/personalize"
)

type scriptedStreamer struct {
	mu       sync.Mutex
	tokens   []ai.Token
	requests []ai.Request
}

func (s *scriptedStreamer) Stream(ctx context.Context, req ai.Request) <-chan ai.Token {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	tokens := append([]ai.Token(nil), s.tokens...)
	s.mu.Unlock()

	out := make(chan ai.Token)
	go func() {
		defer close(out)
		for _, tok := range tokens {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *scriptedStreamer) lastRequest() ai.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type staticPrompt string

func (p staticPrompt) SystemPrompt(context.Context, personalize.Identity) string { return string(p) }

type recorder struct {
	mu     sync.Mutex
	events []chat.StreamEvent
	err    error
}

func (r *recorder) sink(event chat.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) kinds() []chat.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]chat.EventType, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Type)
	}
	return kinds
}

func chunks(parts ...string) []ai.Token {
	tokens := make([]ai.Token, 0, len(parts))
	for _, p := range parts {
		tokens = append(tokens, ai.Token{Content: p})
	}
	return tokens
}

func newTestCoordinator(streamer Streamer, rec *recorder, historyLimit int) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		SessionID:    "s-1",
		Identity:     personalize.Identity{UserID: "7"},
		Streamer:     streamer,
		Prompts:      staticPrompt("system"),
		Sink:         rec.sink,
		HistoryLimit: historyLimit,
	})
}

func TestCoordinatorStreamsChunksThenComplete(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("안", "녕", "하세요")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "안녕"}))

	require.Len(t, rec.events, 4)
	assert.Equal(t, []chat.EventType{chat.EventChunk, chat.EventChunk, chat.EventChunk, chat.EventComplete}, rec.kinds())
	assert.Equal(t, "안", rec.events[0].Content)
	assert.Equal(t, "녕", rec.events[1].Content)
	assert.Equal(t, "하세요", rec.events[2].Content)
	assert.Equal(t, "안녕하세요", rec.events[3].Content)
	for _, e := range rec.events {
		_, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		assert.NoError(t, err)
	}

	assert.Equal(t, StateIdle, c.State())
	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, "안녕", history[0].Content)
	assert.Equal(t, chat.RoleAssistant, history[1].Role)
	assert.Equal(t, "안녕하세요", history[1].Content)
	assert.Equal(t, "s-1", history[1].SessionID)
}

func TestCoordinatorEmptyAnswerStillCompletes(t *testing.T) {
	rec := &recorder{}
	c := newTestCoordinator(&scriptedStreamer{}, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "안녕"}))

	require.Len(t, rec.events, 1)
	assert.Equal(t, chat.EventComplete, rec.events[0].Type)
	assert.Equal(t, "", rec.events[0].Content)
}

func TestCoordinatorProviderFailureEmitsSingleError(t *testing.T) {
	streamer := &scriptedStreamer{tokens: []ai.Token{
		{Content: "부분"},
		{Content: ai.Apology, Err: errors.New("provider down")},
	}}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "안녕"}))

	assert.Equal(t, []chat.EventType{chat.EventChunk, chat.EventError}, rec.kinds())
	assert.Equal(t, ErrorMessage, rec.events[1].Content)
	assert.Equal(t, StateIdle, c.State())

	// only the user turn is kept when no answer completed
	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, chat.RoleUser, history[0].Role)
}

func TestCoordinatorUsesClientHistoryWhenPresent(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("네")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "첫 질문"}))
	assert.Empty(t, streamer.lastRequest().History)
	assert.Equal(t, "system", streamer.lastRequest().SystemPrompt)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "두 번째"}))
	assert.Len(t, streamer.lastRequest().History, 2)

	clientHistory := []chat.Message{{Role: chat.RoleUser, Content: "다른 대화"}}
	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "세 번째", History: clientHistory}))
	assert.Equal(t, clientHistory, streamer.lastRequest().History)
	assert.Equal(t, "세 번째", streamer.lastRequest().Message)
}

func TestCoordinatorCapsHistory(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("네")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "질문"}))
	}

	history := c.History()
	require.Len(t, history, 3)
	assert.Equal(t, chat.RoleAssistant, history[2].Role)
}

func TestCoordinatorRejectsEmptyMessage(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("네")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "   "}))

	assert.Equal(t, []chat.EventType{chat.EventError}, rec.kinds())
	assert.Equal(t, ProtocolErrorMessage, rec.events[0].Content)
	assert.Empty(t, streamer.requests)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinatorSinkFailureCloses(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("안", "녕")}
	rec := &recorder{err: errors.New("connection reset")}
	c := newTestCoordinator(streamer, rec, 0)

	err := c.HandleMessage(context.Background(), Inbound{Message: "안녕"})

	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.HandleMessage(context.Background(), Inbound{Message: "또"}), ErrClosed)
}

func TestCoordinatorSinkDisconnectKeepsCause(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("안")}
	rec := &recorder{err: ErrNotConnected}
	c := newTestCoordinator(streamer, rec, 0)

	err := c.HandleMessage(context.Background(), Inbound{Message: "안녕"})

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateClosed, c.State())
}

func TestCoordinatorNoEventsAfterClose(t *testing.T) {
	streamer := &scriptedStreamer{tokens: chunks("네")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	require.NoError(t, c.HandleMessage(context.Background(), Inbound{Message: "안녕"}))
	history := c.Close()

	assert.Len(t, history, 2)
	assert.ErrorIs(t, c.HandleMessage(context.Background(), Inbound{Message: "또"}), ErrClosed)
	assert.ErrorIs(t, c.RejectFrame(errors.New("bad json")), ErrClosed)
	assert.Len(t, rec.events, 2)
}

func TestCoordinatorCancelledContextStopsQuietly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := &scriptedStreamer{tokens: chunks("안", "녕")}
	rec := &recorder{}
	c := newTestCoordinator(streamer, rec, 0)

	err := c.HandleMessage(ctx, Inbound{Message: "안녕"})

	assert.ErrorIs(t, err, context.Canceled)
	for _, kind := range rec.kinds() {
		assert.NotEqual(t, chat.EventComplete, kind)
		assert.NotEqual(t, chat.EventError, kind)
	}
}
