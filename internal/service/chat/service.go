package chat

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message content is required")
)

// transcript is one stored session. Sessions belong to the user that
// created them; the same client session id under another user is a
// different transcript.
type transcript struct {
	key      string
	session  chat.Session
	messages []chat.Message
	lastUsed time.Time
	element  *list.Element
}

// Service keeps REST conversation transcripts in memory, bounded by
// session count and idle time.
type Service struct {
	mu      sync.Mutex
	entries map[string]*transcript
	order   *list.List // least recently used at the front

	limit       int
	maxSessions int
	idleTTL     time.Duration
	now         func() time.Time
}

// NewService creates the store. Each transcript keeps at most
// cfg.HistoryLimit messages, dropping the oldest first. Once
// cfg.TranscriptMaxSessions sessions exist the least recently used one is
// evicted, and sessions idle for cfg.TranscriptIdleTTL expire. Zero values
// disable the corresponding bound.
func NewService(cfg config.SessionConfig) *Service {
	return &Service{
		entries:     make(map[string]*transcript),
		order:       list.New(),
		limit:       cfg.HistoryLimit,
		maxSessions: cfg.TranscriptMaxSessions,
		idleTTL:     cfg.TranscriptIdleTTL,
		now:         time.Now,
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// EnsureSession returns the caller's session with sessionID, creating it
// when it does not exist yet. An empty sessionID always creates a new
// session.
func (s *Service) EnsureSession(_ context.Context, sessionID, userID string) (chat.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	key := sessionKey(userID, sessionID)
	if entry, ok := s.entries[key]; ok {
		s.touchLocked(entry, now)
		return entry.session, nil
	}

	for s.maxSessions > 0 && len(s.entries) >= s.maxSessions {
		s.removeLocked(s.order.Front().Value.(*transcript))
	}

	entry := &transcript{
		key: key,
		session: chat.Session{
			ID:        sessionID,
			UserID:    userID,
			CreatedAt: now.UTC(),
		},
		messages: make([]chat.Message, 0, 16),
		lastUsed: now,
	}
	entry.element = s.order.PushBack(entry)
	s.entries[key] = entry
	return entry.session, nil
}

// SaveMessage appends a message to the history of userID's session.
func (s *Service) SaveMessage(_ context.Context, userID string, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}
	if message.Content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	entry, ok := s.entries[sessionKey(userID, message.SessionID)]
	if !ok {
		return ErrSessionNotFound
	}
	s.touchLocked(entry, now)

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now.UTC()
	}

	history := append(entry.messages, message)
	if s.limit > 0 && len(history) > s.limit {
		history = append([]chat.Message(nil), history[len(history)-s.limit:]...)
	}
	entry.messages = history
	return nil
}

// LoadTranscript returns a copy of the stored messages of userID's session.
func (s *Service) LoadTranscript(_ context.Context, userID, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	entry, ok := s.entries[sessionKey(userID, sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touchLocked(entry, now)

	copied := make([]chat.Message, len(entry.messages))
	copy(copied, entry.messages)
	return copied, nil
}

func (s *Service) touchLocked(entry *transcript, now time.Time) {
	entry.lastUsed = now
	s.order.MoveToBack(entry.element)
}

// expireLocked drops idle sessions. The order list is sorted by last use,
// so it stops at the first live entry.
func (s *Service) expireLocked(now time.Time) {
	if s.idleTTL <= 0 {
		return
	}
	for elem := s.order.Front(); elem != nil; elem = s.order.Front() {
		entry := elem.Value.(*transcript)
		if now.Sub(entry.lastUsed) < s.idleTTL {
			return
		}
		s.removeLocked(entry)
	}
}

func (s *Service) removeLocked(entry *transcript) {
	s.order.Remove(entry.element)
	delete(s.entries, entry.key)
}
