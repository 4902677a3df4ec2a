// Package session owns live duplex chat sessions: the registry of open
// connections and the per-session streaming state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/observability"
)

var (
	// ErrNotConnected means the session is gone; callers treat it as a no-op.
	ErrNotConnected = errors.New("session not connected")
	// ErrHandshake wraps a failed transport accept.
	ErrHandshake = errors.New("handshake failed")
	// ErrTooManySessions is returned before accepting when the registry is full.
	ErrTooManySessions = errors.New("too many sessions")
)

// Conn is the transport handle of a session. Only one goroutine may write at
// a time; the registry serializes writes per session.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one registered connection.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	conn    Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// Send writes v to the connection.
func (s *Session) Send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Wait blocks until the session may handle another inbound message.
func (s *Session) Wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Registry tracks every open session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	pending  int

	maxSessions int
	rateLimit   rate.Limit
	burst       int

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.SessionConfig, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}

	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: cfg.MaxSessions,
		rateLimit:   limit,
		burst:       burst,
		logger:      logger.Named("session"),
		metrics:     metrics,
	}
}

// Register reserves a slot, runs accept and stores the resulting connection
// under a new id. Capacity is checked before accept is called.
func (r *Registry) Register(userID string, accept func() (Conn, error)) (*Session, error) {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions)+r.pending >= r.maxSessions {
		r.mu.Unlock()
		r.metrics.SessionRefused("rejected")
		return nil, ErrTooManySessions
	}
	r.pending++
	r.mu.Unlock()

	conn, err := accept()

	r.mu.Lock()
	r.pending--
	if err != nil {
		r.mu.Unlock()
		r.metrics.SessionRefused("handshake_failed")
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		conn:      conn,
		limiter:   rate.NewLimiter(r.rateLimit, r.burst),
	}
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.logger.Info("session registered", zap.String("session_id", s.ID), zap.String("user_id", userID), zap.Int("total", total))
	return s, nil
}

// Unregister closes and forgets a session. It reports whether the session
// was still registered; repeated calls are harmless.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.conn.Close(); err != nil {
		r.logger.Debug("closing session transport", zap.String("session_id", id), zap.Error(err))
	}
	r.metrics.SessionClosed()
	r.logger.Info("session unregistered", zap.String("session_id", id), zap.Int("total", total))
	return true
}

// Get returns a registered session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Send delivers an event to one session.
func (r *Registry) Send(id string, event chat.StreamEvent) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrNotConnected
	}
	if err := s.Send(event); err != nil {
		return fmt.Errorf("write to session %s: %w", id, err)
	}
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}
