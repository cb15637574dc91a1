package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"livecam/native/internal/api"
	"livecam/native/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "livecam", "credentials.json"))
}

func TestLogin_StoresTokenAndClearsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer srv.Close()

	store := newStore(t)
	sess, err := LoadSession(store)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	svc := NewService(api.NewAuthClient(api.NewClient(5*time.Second), srv.URL, "username"), sess)

	form := &Form{Identifier: "alice", Password: "secret"}
	if err := svc.Login(context.Background(), form); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if sess.Token() != "abc123" {
		t.Errorf("expected token abc123, got %q", sess.Token())
	}
	if form.Identifier != "" || form.Password != "" {
		t.Errorf("expected form cleared, got %+v", form)
	}

	// A fresh process sees the persisted token.
	reloaded, err := LoadSession(NewStore(store.Path()))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Token() != "abc123" {
		t.Errorf("expected persisted token, got %q", reloaded.Token())
	}
}

type stubAuth struct {
	err error
}

func (s stubAuth) Login(ctx context.Context, id, pw string) (string, error)    { return "", s.err }
func (s stubAuth) Register(ctx context.Context, id, pw string) (string, error) { return "reg-tok", s.err }
func (s stubAuth) Forgot(ctx context.Context, email string) error              { return nil }
func (s stubAuth) Reset(ctx context.Context, tok, pw string) error             { return nil }

func TestLogin_FailureKeepsFormAndToken(t *testing.T) {
	sess, err := LoadSession(newStore(t))
	if err != nil {
		t.Fatal(err)
	}
	rejected := domain.NewError(domain.ErrAuth, "invalid credentials", nil)
	svc := NewService(stubAuth{err: rejected}, sess)

	form := &Form{Identifier: "alice", Password: "wrong"}
	err = svc.Login(context.Background(), form)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if form.Identifier != "alice" || form.Password != "wrong" {
		t.Errorf("form should be kept on failure, got %+v", form)
	}
	if sess.LoggedIn() {
		t.Error("session should stay logged out")
	}
}

func TestRegisterThenLogout(t *testing.T) {
	store := newStore(t)
	sess, err := LoadSession(store)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(stubAuth{}, sess)

	if err := svc.Register(context.Background(), &Form{Identifier: "bob", Password: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.Token() != "reg-tok" {
		t.Fatalf("expected reg-tok, got %q", sess.Token())
	}

	if err := svc.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if sess.LoggedIn() {
		t.Error("expected logged out")
	}
	tok, err := store.Get()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "" {
		t.Errorf("expected store cleared, got %q", tok)
	}
}

func TestStore_KeepsOtherKeys(t *testing.T) {
	store := newStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte(`{"theme":"dark"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := store.Set("t1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n  \"theme\": \"dark\"\n}" {
		t.Errorf("unexpected store contents %s", data)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	store := newStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSession(store); err == nil {
		t.Fatal("expected error for corrupt store")
	}
}
