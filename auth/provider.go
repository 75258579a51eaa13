package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cocomeza/alcontruccionessrl/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenLength = 32
	// DefaultSessionTTL is used when the provider is given a zero ttl.
	DefaultSessionTTL = 24 * time.Hour
)

// Errors returned by Identity implementations.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoSession          = errors.New("no active session")
)

// Role of a signed in user
type Role string

// RoleAdmin may edit the portfolio.
const RoleAdmin Role = "admin"

// User is an authenticated principal.
type User struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Session is issued by SignIn and identified by its token.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is the sign-in/sign-out/current-user contract the site uses.
type Identity interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*User, error)
}

// GenerateKey returns a cryptographically secure URL safe random string of length n.
func GenerateKey(n int) (string, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// HashPassword returns the bcrypt hash to put in the admin configuration.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Provider authenticates the configured administrators and persists
// sessions in a store.Storage.
type Provider struct {
	admins   map[string]string // email -> bcrypt hash
	sessions store.Storage
	ttl      time.Duration
	broker   Broker
	now      func() time.Time
}

// NewProvider creates a provider for admins (email to bcrypt hash).
// broker may be nil.
func NewProvider(admins map[string]string, sessions store.Storage, ttl time.Duration, broker Broker) *Provider {
	m := make(map[string]string, len(admins))
	for email, hash := range admins {
		m[normalizeEmail(email)] = hash
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Provider{
		admins:   m,
		sessions: sessions,
		ttl:      ttl,
		broker:   broker,
		now:      time.Now,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sessionKey(token string) string { return "session:" + token }

// SignIn checks the password and opens a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	hash, ok := p.admins[email]
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	token, err := GenerateKey(tokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	s := &Session{
		Token:     token,
		User:      User{Email: email, Role: RoleAdmin},
		ExpiresAt: p.now().Add(p.ttl).UTC(),
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.Set(sessionKey(token), string(b), p.ttl); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	p.publish(Event{Kind: EventSignedIn, Email: email, Token: token})
	return s, nil
}

// SignOut ends the session. Unknown tokens are ignored.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	s, err := p.load(token)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.sessions.Del(sessionKey(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	p.publish(Event{Kind: EventSignedOut, Email: s.User.Email, Token: token})
	return nil
}

// CurrentUser resolves token to its user.
func (p *Provider) CurrentUser(ctx context.Context, token string) (*User, error) {
	s, err := p.load(token)
	if err != nil {
		return nil, err
	}
	return &s.User, nil
}

func (p *Provider) load(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	v, err := p.sessions.Get(sessionKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !p.now().Before(s.ExpiresAt) {
		_ = p.sessions.Del(sessionKey(token))
		return nil, ErrNoSession
	}
	return &s, nil
}

func (p *Provider) publish(e Event) {
	if p.broker != nil {
		p.broker.Publish(e)
	}
}
