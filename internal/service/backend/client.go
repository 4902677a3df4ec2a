// Package backend is the HTTP client for the profile backend that owns user
// profiles, behaviour insights and saved conversations.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/observability"
)

var (
	// ErrUnavailable wraps transport failures and non-200 answers.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotConfigured is returned when no backend URL is set.
	ErrNotConfigured = errors.New("backend url not configured")
)

// Endpoint names used in logs and metrics.
const (
	endpointGetProfile       = "get_profile"
	endpointUpdateProfile    = "update_profile"
	endpointSaveConversation = "save_conversation"
	endpointGetHistory       = "get_history"
	endpointGetInsights      = "get_insights"
	endpointVerifyToken      = "verify_token"
)

// ConversationRecord is the payload stored by POST /ai/conversation.
type ConversationRecord struct {
	UserID              int64    `json:"userId"`
	SessionTitle        string   `json:"sessionTitle"`
	TotalMessages       int      `json:"totalMessages"`
	DurationMinutes     int      `json:"durationMinutes"`
	MessagesJSON        string   `json:"messagesJson"`
	MainTopics          []string `json:"mainTopics"`
	HealthMentions      []string `json:"healthMentions"`
	ConcernsDiscussed   []string `json:"concernsDiscussed"`
	MoodAnalysis        string   `json:"moodAnalysis"`
	StressLevel         int      `json:"stressLevel"`
	ConversationSummary string   `json:"conversationSummary"`
	KeyInsights         []string `json:"keyInsights"`
	AIRecommendations   []string `json:"aiRecommendations"`
}

// ProfileUpdate is the body of PUT /ai/profile. Nested sections travel as
// JSON strings, which is what the backend stores.
type ProfileUpdate struct {
	AgeGroup          string `json:"ageGroup,omitempty"`
	HealthProfile     string `json:"healthProfile,omitempty"`
	Interests         string `json:"interests,omitempty"`
	ConversationStyle string `json:"conversationStyle,omitempty"`
}

// HistoryEntry is one saved conversation summary. The backend returns loosely
// typed maps, so entries are passed through untouched.
type HistoryEntry map[string]any

// Claims is whatever the backend reports about a verified token.
type Claims map[string]any

// Client talks to the profile backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// New creates a backend client.
func New(cfg config.BackendConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("backend"),
		metrics:    metrics,
	}
}

// GetProfile fetches the profile of the token's owner.
func (c *Client) GetProfile(ctx context.Context, token string) (*profile.Profile, error) {
	var p profile.Profile
	if err := c.do(ctx, endpointGetProfile, http.MethodGet, "/ai/profile", token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile replaces the profile fields of the token's owner.
func (c *Client) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) error {
	return c.do(ctx, endpointUpdateProfile, http.MethodPut, "/ai/profile", token, update, nil)
}

// SaveConversation stores an analysed conversation and returns its id.
func (c *Client) SaveConversation(ctx context.Context, record ConversationRecord) (int64, error) {
	var id int64
	if err := c.do(ctx, endpointSaveConversation, http.MethodPost, "/ai/conversation", "", record, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetHistory lists the most recent saved conversations of a user.
func (c *Client) GetHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	path := "/ai/history/" + url.PathEscape(userID) + "?limit=" + strconv.Itoa(limit)

	var entries []HistoryEntry
	if err := c.do(ctx, endpointGetHistory, http.MethodGet, path, "", nil, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, nil
}

// GetInsights fetches the aggregate insights of a user.
func (c *Client) GetInsights(ctx context.Context, userID string) (*profile.Insights, error) {
	var insights profile.Insights
	if err := c.do(ctx, endpointGetInsights, http.MethodGet, "/ai/insights/"+url.PathEscape(userID), "", nil, &insights); err != nil {
		return nil, err
	}
	return &insights, nil
}

// VerifyToken asks the backend whether token is valid.
func (c *Client) VerifyToken(ctx context.Context, token string) (Claims, error) {
	var claims Claims
	if err := c.do(ctx, endpointVerifyToken, http.MethodGet, "/auth/verify", token, nil, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path, token string, payload, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.BackendRequest(endpoint, "error")
		c.logger.Warn("backend request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.BackendRequest(endpoint, "error")
		return fmt.Errorf("%w: read %s response: %v", ErrUnavailable, endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.BackendRequest(endpoint, "status_"+strconv.Itoa(resp.StatusCode))
		c.logger.Warn("backend returned non-200",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body_prefix", truncate(string(respBody), 300)),
		)
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, endpoint, resp.StatusCode)
	}

	c.metrics.BackendRequest(endpoint, "ok")
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Warn("backend response parse failed",
			zap.String("endpoint", endpoint),
			zap.String("body_prefix", truncate(string(respBody), 300)),
			zap.Error(err),
		)
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
