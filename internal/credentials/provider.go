package credentials

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured means no credential source holds a value.
var ErrNotConfigured = errors.New("credential not configured")

// Provider hands out the upstream realtime credential.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// Static serves a fixed credential, typically OPENAI_API_KEY.
type Static struct {
	value string
}

func NewStatic(value string) *Static {
	return &Static{value: strings.TrimSpace(value)}
}

func (s *Static) Credential(context.Context) (string, error) {
	if s.value == "" {
		return "", ErrNotConfigured
	}
	return s.value, nil
}
