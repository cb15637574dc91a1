package auth

import (
	"context"
	"fmt"
	"sync"

	"livecam/native/internal/logging"
)

// Session holds the process-wide bearer token. It is loaded once at
// startup, written only by login, register and logout, and read by
// everything that calls an authenticated service.
type Session struct {
	store *Store

	mu    sync.RWMutex
	token string
}

// LoadSession reads the persisted token from store.
func LoadSession(store *Store) (*Session, error) {
	tok, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("load auth token: %w", err)
	}
	return &Session{store: store, token: tok}, nil
}

// Token returns the current bearer token, "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// LoggedIn reports whether a token is present.
func (s *Session) LoggedIn() bool { return s.Token() != "" }

func (s *Session) set(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(tok); err != nil {
		return err
	}
	s.token = tok
	return nil
}

func (s *Session) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.token = ""
	return nil
}

// Form carries the user's login input.
type Form struct {
	Identifier string
	Password   string
}

// Clear wipes the form fields.
func (f *Form) Clear() {
	f.Identifier = ""
	f.Password = ""
}

// Authenticator is the subset of the auth service the Service uses.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (string, error)
	Register(ctx context.Context, identifier, password string) (string, error)
	Forgot(ctx context.Context, email string) error
	Reset(ctx context.Context, resetToken, password string) error
}

// Service ties the auth endpoints to the session token.
type Service struct {
	api     Authenticator
	session *Session
}

// NewService creates a Service.
func NewService(api Authenticator, session *Session) *Service {
	return &Service{api: api, session: session}
}

// Session returns the token holder.
func (s *Service) Session() *Session { return s.session }

// Login authenticates with form, stores the token and clears the form.
// On failure the form is left untouched so the user can correct it.
func (s *Service) Login(ctx context.Context, form *Form) error {
	tok, err := s.api.Login(ctx, form.Identifier, form.Password)
	if err != nil {
		return err
	}
	return s.accept(ctx, tok, form)
}

// Register creates an account, stores its token and clears the form.
func (s *Service) Register(ctx context.Context, form *Form) error {
	tok, err := s.api.Register(ctx, form.Identifier, form.Password)
	if err != nil {
		return err
	}
	return s.accept(ctx, tok, form)
}

func (s *Service) accept(ctx context.Context, tok string, form *Form) error {
	if err := s.session.set(tok); err != nil {
		return err
	}
	form.Clear()
	logger := logging.Ctx(ctx)
	logger.Info().Str("module", "auth").Msg("logged in")
	return nil
}

// Forgot requests a reset mail for email.
func (s *Service) Forgot(ctx context.Context, email string) error {
	return s.api.Forgot(ctx, email)
}

// Reset sets a new password with a reset token.
func (s *Service) Reset(ctx context.Context, resetToken, password string) error {
	return s.api.Reset(ctx, resetToken, password)
}

// Logout forgets the stored token.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.session.clear(); err != nil {
		return err
	}
	logger := logging.Ctx(ctx)
	logger.Info().Str("module", "auth").Msg("logged out")
	return nil
}
