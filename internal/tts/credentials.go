package tts

import (
	"context"
	"os"
	"sync"
)

// DefaultAPIKeyEnv is the environment variable the service reads the
// provider API key from when no explicit variable is configured.
const DefaultAPIKeyEnv = "TTS_ENGINE_API_KEY"

// Credentials carries what the client needs to authenticate against the
// speech provider. An empty APIKey means the provider runs without
// authentication, which is the common case for a local engine.
type Credentials struct {
	APIKey string
}

// CredentialSource supplies provider credentials on demand. Invalidate
// discards any cached value so the next Resolve re-reads the source, which
// lets the client recover from key rotation after an auth failure.
type CredentialSource interface {
	Resolve(ctx context.Context) (Credentials, error)
	Invalidate()
}

// EnvCredentialSource resolves credentials from an environment variable and
// caches the result until invalidated.
type EnvCredentialSource struct {
	envVar string

	mu     sync.Mutex
	cached *Credentials
}

// NewEnvCredentialSource creates a source reading the given environment
// variable, falling back to DefaultAPIKeyEnv when envVar is empty.
func NewEnvCredentialSource(envVar string) *EnvCredentialSource {
	if envVar == "" {
		envVar = DefaultAPIKeyEnv
	}

	return &EnvCredentialSource{envVar: envVar, mu: sync.Mutex{}, cached: nil}
}

// Resolve returns the cached credentials, reading the environment on first
// use or after an Invalidate.
func (s *EnvCredentialSource) Resolve(_ context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		s.cached = &Credentials{APIKey: os.Getenv(s.envVar)}
	}

	return *s.cached, nil
}

// Invalidate drops the cached credentials.
func (s *EnvCredentialSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
}

// StaticCredentials is a CredentialSource that always returns the same
// fixed credentials.
type StaticCredentials struct {
	Key string
}

// Resolve returns the fixed credentials.
func (s StaticCredentials) Resolve(_ context.Context) (Credentials, error) {
	return Credentials{APIKey: s.Key}, nil
}

// Invalidate is a no-op for fixed credentials.
func (s StaticCredentials) Invalidate() {}
