package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// issueAgentToken generates the upload credential for a new agent. 24 random
// bytes gives 192 bits of entropy. Failure means the entropy source is
// exhausted and is not retried.
func issueAgentToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var errUnknownToken = errors.New("unknown token")

// agentByToken resolves an upload credential to its agent. Malformed, empty
// and unknown tokens all collapse to errUnknownToken so callers cannot probe
// which tokens exist.
func (s *Server) agentByToken(ctx context.Context, token string) (*Agent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errUnknownToken
	}

	var agent Agent
	if err := s.db.WithContext(ctx).Where("agent_token = ?", token).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUnknownToken
		}
		return nil, err
	}
	return &agent, nil
}
