package ai

import (
	"context"
	"errors"
)

// ErrNoModel marks the apology token produced when no chat model is
// configured.
var ErrNoModel = errors.New("no chat model configured")

// Unavailable stands in for Service when no provider is configured. Every
// turn is answered with Apology so chat endpoints keep responding.
type Unavailable struct{}

// Complete returns Apology.
func (Unavailable) Complete(context.Context, Request) string {
	return Apology
}

// Stream yields a single Apology token carrying ErrNoModel.
func (Unavailable) Stream(context.Context, Request) <-chan Token {
	out := make(chan Token, 1)
	out <- Token{Content: Apology, Err: ErrNoModel}
	close(out)
	return out
}
