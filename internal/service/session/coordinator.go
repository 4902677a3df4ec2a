package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/observability"
	"github.com/cheongchun/ai-core/internal/service/ai"
	"github.com/cheongchun/ai-core/internal/service/personalize"
)

const (
	// ErrorMessage is sent when an answer could not be produced.
	ErrorMessage = "연결 중 오류가 발생했습니다. 다시 시도해주세요."
	// ProtocolErrorMessage is sent for frames that cannot be understood.
	ProtocolErrorMessage = "메시지 형식이 올바르지 않습니다. 다시 보내주세요."
)

var (
	// ErrClosed is returned once a session has been closed.
	ErrClosed = errors.New("session closed")
	// ErrBusy is returned when a message arrives while a reply is streaming.
	ErrBusy = errors.New("session is streaming")
	// ErrTransport wraps failures writing to the client.
	ErrTransport = errors.New("transport error")
)

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Streamer produces answer tokens.
type Streamer interface {
	Stream(ctx context.Context, req ai.Request) <-chan ai.Token
}

// PromptSource renders the personalized system prompt.
type PromptSource interface {
	SystemPrompt(ctx context.Context, id personalize.Identity) string
}

// Sink delivers an event to the client.
type Sink func(event chat.StreamEvent) error

// Inbound is a client frame.
type Inbound struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

// CoordinatorConfig wires a coordinator.
type CoordinatorConfig struct {
	SessionID    string
	Identity     personalize.Identity
	Streamer     Streamer
	Prompts      PromptSource
	Sink         Sink
	HistoryLimit int
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// Coordinator runs one session: each inbound message becomes an ordered run
// of chunk events closed by exactly one complete or error event.
type Coordinator struct {
	sessionID    string
	identity     personalize.Identity
	streamer     Streamer
	prompts      PromptSource
	sink         Sink
	historyLimit int
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time

	mu       sync.Mutex
	state    State
	history  []chat.Message
	openedAt time.Time
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		sessionID:    cfg.SessionID,
		identity:     cfg.Identity,
		streamer:     cfg.Streamer,
		prompts:      cfg.Prompts,
		sink:         cfg.Sink,
		historyLimit: cfg.HistoryLimit,
		logger:       logger.With(zap.String("session_id", cfg.SessionID)),
		metrics:      cfg.Metrics,
		now:          time.Now,
		openedAt:     time.Now(),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the accumulated conversation.
func (c *Coordinator) History() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.history...)
}

// Duration is how long the session has been open.
func (c *Coordinator) Duration() time.Duration {
	return c.now().Sub(c.openedAt)
}

// Close moves the session to Closed and returns the accumulated history.
// No event is emitted after Close.
func (c *Coordinator) Close() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	return append([]chat.Message(nil), c.history...)
}

// HandleMessage streams the answer to one inbound message. A provider failure
// produces an error event and leaves the session idle. A write failure closes
// the session and is returned wrapped in ErrTransport.
func (c *Coordinator) HandleMessage(ctx context.Context, in Inbound) error {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return c.RejectFrame(errors.New("empty message"))
	}

	if err := c.begin(); err != nil {
		return err
	}
	started := c.now()

	history := in.History
	if len(history) == 0 {
		history = c.History()
	}
	c.appendHistory(chat.UserMessage(message))

	system := c.prompts.SystemPrompt(ctx, c.identity)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens := c.streamer.Stream(streamCtx, ai.Request{
		SystemPrompt: system,
		History:      history,
		Message:      message,
	})

	var (
		full   strings.Builder
		failed error
	)
	for tok := range tokens {
		if tok.Err != nil {
			failed = tok.Err
			continue
		}

		full.WriteString(tok.Content)
		if err := c.emit(chat.EventChunk, tok.Content); err != nil {
			cancel()
			c.finish("cancelled", started)
			return err
		}
		c.metrics.ChunkSent()
	}

	if ctx.Err() != nil {
		c.finish("cancelled", started)
		return ctx.Err()
	}

	if failed != nil {
		c.logger.Warn("answer stream failed", zap.Error(failed))
		err := c.emit(chat.EventError, ErrorMessage)
		c.finish("error", started)
		return err
	}

	answer := full.String()
	if err := c.emit(chat.EventComplete, answer); err != nil {
		c.finish("cancelled", started)
		return err
	}
	c.appendHistory(chat.AssistantMessage(answer))
	c.finish("complete", started)
	return nil
}

// RejectFrame answers an unusable frame with an error event. The session
// stays open.
func (c *Coordinator) RejectFrame(reason error) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	c.logger.Info("rejecting inbound frame", zap.Error(reason))
	return c.emit(chat.EventError, ProtocolErrorMessage)
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateStreaming:
		return ErrBusy
	}
	c.state = StateStreaming
	return nil
}

func (c *Coordinator) finish(status string, started time.Time) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.metrics.StreamFinished(status, c.now().Sub(started))
}

func (c *Coordinator) emit(kind chat.EventType, content string) error {
	if c.State() == StateClosed {
		return ErrClosed
	}

	if err := c.sink(chat.NewStreamEvent(kind, content, c.now())); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (c *Coordinator) appendHistory(msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg.SessionID = c.sessionID
	msg.CreatedAt = c.now().UTC()
	c.history = append(c.history, msg)
	if c.historyLimit > 0 && len(c.history) > c.historyLimit {
		c.history = append([]chat.Message(nil), c.history[len(c.history)-c.historyLimit:]...)
	}
}
