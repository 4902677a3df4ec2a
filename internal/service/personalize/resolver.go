package personalize

import (
	"context"

	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/model/profile"
)

// Source fetches personalization records. Implementations return an error
// when the record is absent or the backend cannot be reached.
type Source interface {
	GetProfile(ctx context.Context, token string) (*profile.Profile, error)
	GetInsights(ctx context.Context, userID string) (*profile.Insights, error)
}

// Identity is what is known about the person on the other end of a session.
type Identity struct {
	UserID string
	Token  string
}

// Resolver builds personalized system prompts from live backend data.
// Lookup failures never surface; the base prompt is used instead.
type Resolver struct {
	source     Source
	basePrompt string
	logger     *zap.Logger
}

// NewResolver creates a resolver. A nil source always yields basePrompt.
func NewResolver(source Source, basePrompt string, logger *zap.Logger) *Resolver {
	return &Resolver{
		source:     source,
		basePrompt: basePrompt,
		logger:     logger.Named("personalize"),
	}
}

// SystemPrompt fetches the profile when a token is known, otherwise the
// insights when a user id is known, and renders the prompt.
func (r *Resolver) SystemPrompt(ctx context.Context, id Identity) string {
	if r.source == nil {
		return r.basePrompt
	}

	switch {
	case id.Token != "":
		p, err := r.source.GetProfile(ctx, id.Token)
		if err != nil {
			r.logger.Warn("profile lookup failed, using base prompt", zap.String("user_id", id.UserID), zap.Error(err))
			return r.basePrompt
		}
		return Build(r.basePrompt, p, nil)
	case id.UserID != "":
		insights, err := r.source.GetInsights(ctx, id.UserID)
		if err != nil {
			r.logger.Warn("insights lookup failed, using base prompt", zap.String("user_id", id.UserID), zap.Error(err))
			return r.basePrompt
		}
		return Build(r.basePrompt, nil, insights)
	default:
		return r.basePrompt
	}
}
