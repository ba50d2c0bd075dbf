package client

import (
	"context"
	"errors"
	"sync"
)

type SessionState int

const (
	Anonymous SessionState = iota
	PendingValidation
	Authenticated
	Invalid
)

func (s SessionState) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case PendingValidation:
		return "pending"
	case Authenticated:
		return "authenticated"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrSessionExpired is returned once a stored token has been rejected.
var ErrSessionExpired = errors.New("session expired, please log in again")

// Session owns the token lifecycle: storage, the attached bearer header and
// the resolved user.
type Session struct {
	api   *Client
	store *CredentialStore

	mu     sync.Mutex
	state  SessionState
	user   *User
	source string
}

func NewSession(api *Client, store *CredentialStore) *Session {
	return &Session{api: api, store: store}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated user, or nil.
func (s *Session) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) Client() *Client { return s.api }

// Restore validates a stored token against the server. With nothing stored
// the session stays Anonymous and Restore returns nil.
func (s *Session) Restore(ctx context.Context) error {
	info, err := s.store.Load()
	if err != nil {
		return err
	}
	if info == nil {
		s.setAnonymous()
		return nil
	}

	s.mu.Lock()
	s.state = PendingValidation
	s.source = info.Source
	s.mu.Unlock()
	s.api.SetToken(info.Token)

	user, err := s.api.Me(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			s.invalidate()
			return ErrSessionExpired
		}
		// server unreachable: keep the stored token for the next attempt
		s.api.SetToken("")
		s.setAnonymous()
		return err
	}

	s.mu.Lock()
	s.state = Authenticated
	s.user = user
	s.mu.Unlock()
	return nil
}

// Login leaves the session untouched on failure.
func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(res)
}

func (s *Session) Register(ctx context.Context, name, email, password string) (*User, error) {
	res, err := s.api.Register(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(res)
}

func (s *Session) Logout() error {
	err := s.store.Delete()
	s.api.SetToken("")
	s.setAnonymous()
	return err
}

// Check clears an authenticated session when err is a 401 and reports
// ErrSessionExpired in its place. Other errors pass through.
func (s *Session) Check(err error) error {
	if err == nil || !IsUnauthorized(err) {
		return err
	}
	if s.State() != Authenticated {
		return err
	}
	s.invalidate()
	return ErrSessionExpired
}

func (s *Session) adopt(res *AuthResult) (*User, error) {
	if err := s.store.Save(res.Token, res.ExpiresAt); err != nil {
		return nil, err
	}
	s.api.SetToken(res.Token)

	user := res.User
	s.mu.Lock()
	s.state = Authenticated
	s.user = &user
	s.source = SourceFile
	s.mu.Unlock()
	return &user, nil
}

func (s *Session) invalidate() {
	s.mu.Lock()
	fromFile := s.source != SourceEnv
	s.state = Invalid
	s.user = nil
	s.mu.Unlock()

	s.api.SetToken("")
	if fromFile {
		_ = s.store.Delete()
	}
}

func (s *Session) setAnonymous() {
	s.mu.Lock()
	s.state = Anonymous
	s.user = nil
	s.source = ""
	s.mu.Unlock()
}
