package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/config"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

// capabilityScopes maps each workspace capability to the OAuth scope that
// grants it.
var capabilityScopes = map[capability.Capability]string{
	capability.Mail:     gmail.GmailModifyScope,
	capability.Calendar: calendar.CalendarScope,
	capability.Storage:  drive.DriveScope,
}

var identityScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// AuthStatus describes which capabilities the session may use right now.
type AuthStatus struct {
	Connected bool
	Services  map[capability.Capability]bool
	UserEmail string
}

// Authorized reports whether a single capability is granted.
func (s AuthStatus) Authorized(cap capability.Capability) bool {
	return s.Services[cap]
}

// RequiredError is returned when a request needs capabilities the session has
// not granted. It is user-actionable: the caller surfaces a reconnect prompt,
// not a hard failure.
type RequiredError struct {
	Missing []capability.Capability
}

func (e *RequiredError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.String()
	}
	return fmt.Sprintf("authorization required for: %s", strings.Join(names, ", "))
}

// Gate tracks per-session, per-capability authorization state.
type Gate interface {
	Status(ctx context.Context, sess Session) (AuthStatus, error)
	Require(ctx context.Context, sess Session, caps ...capability.Capability) error
	BeginAuthorization(state string) string
	CompleteAuthorization(ctx context.Context, code string) (Session, AuthStatus, error)
	Revoke(ctx context.Context, sess Session) error
}

// UserStore is what the gate needs from persistence.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	UpsertUser(ctx context.Context, email string) (*store.User, error)
	SaveGoogleTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time, scopes string) error
}

// GoogleGate implements Gate on top of stored Google OAuth grants.
type GoogleGate struct {
	users UserStore
	cfg   *oauth2.Config
}

func NewGoogleGate(users UserStore) *GoogleGate {
	scopes := append([]string{}, identityScopes...)
	for _, c := range capability.All() {
		scopes = append(scopes, capabilityScopes[c])
	}

	return &GoogleGate{
		users: users,
		cfg: &oauth2.Config{
			ClientID:     config.AppConfig.GoogleClientID,
			ClientSecret: config.AppConfig.GoogleClientSecret,
			RedirectURL:  config.AppConfig.OAuthRedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

func (g *GoogleGate) Status(ctx context.Context, sess Session) (AuthStatus, error) {
	disconnected := AuthStatus{Services: map[capability.Capability]bool{}}
	for _, c := range capability.All() {
		disconnected.Services[c] = false
	}

	user, err := g.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return disconnected, nil
		}
		return disconnected, fmt.Errorf("failed to load user: %w", err)
	}

	// A grant is usable if the access token is still live or refreshable.
	usable := user.GoogleAccessToken != "" &&
		(user.GoogleRefreshToken != "" || user.TokenExpiry.After(time.Now()))
	if !usable {
		return disconnected, nil
	}

	status := AuthStatus{
		Connected: true,
		Services:  map[capability.Capability]bool{},
		UserEmail: user.Email,
	}
	for _, c := range capability.All() {
		status.Services[c] = strings.Contains(user.GrantedScopes, capabilityScopes[c])
	}
	return status, nil
}

func (g *GoogleGate) Require(ctx context.Context, sess Session, caps ...capability.Capability) error {
	status, err := g.Status(ctx, sess)
	if err != nil {
		return err
	}

	var missing []capability.Capability
	for _, c := range caps {
		if !status.Authorized(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &RequiredError{Missing: missing}
	}
	return nil
}

func (g *GoogleGate) BeginAuthorization(state string) string {
	return g.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"))
}

// CompleteAuthorization exchanges the provider's code, resolves the account
// identity and persists the grant. Completing twice with the same provider
// response yields the same resulting status.
func (g *GoogleGate) CompleteAuthorization(ctx context.Context, code string) (Session, AuthStatus, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return Session{}, AuthStatus{}, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(g.cfg.TokenSource(ctx, token)))
	if err != nil {
		return Session{}, AuthStatus{}, fmt.Errorf("failed to build userinfo service: %w", err)
	}
	userInfo, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Session{}, AuthStatus{}, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if userInfo.Email == "" {
		return Session{}, AuthStatus{}, fmt.Errorf("authorization response carried no email")
	}

	user, err := g.users.UpsertUser(ctx, userInfo.Email)
	if err != nil {
		return Session{}, AuthStatus{}, fmt.Errorf("failed to upsert user: %w", err)
	}

	scopes, _ := token.Extra("scope").(string)
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// Google omits the refresh token on repeat consents; keep the old one.
		refreshToken = user.GoogleRefreshToken
	}
	if err := g.users.SaveGoogleTokens(ctx, user.ID, token.AccessToken, refreshToken, token.Expiry, scopes); err != nil {
		return Session{}, AuthStatus{}, fmt.Errorf("failed to persist tokens: %w", err)
	}

	sess := Session{UserID: user.ID, Email: user.Email}
	status, err := g.Status(ctx, sess)
	if err != nil {
		return Session{}, AuthStatus{}, err
	}
	log.Printf("Authorization completed for user %s", user.Email)
	return sess, status, nil
}

// Revoke clears the session's grant. Revoking an already-revoked session is
// a no-op.
func (g *GoogleGate) Revoke(ctx context.Context, sess Session) error {
	err := g.users.SaveGoogleTokens(ctx, sess.UserID, "", "", time.Time{}, "")
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// TokenSource returns an oauth2 token source for the user's stored grant,
// persisting refreshed access tokens as they are minted.
func (g *GoogleGate) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.GoogleAccessToken == "" && user.GoogleRefreshToken == "" {
		return nil, capability.ErrAuthRevoked
	}

	token := &oauth2.Token{
		AccessToken:  user.GoogleAccessToken,
		RefreshToken: user.GoogleRefreshToken,
		Expiry:       user.TokenExpiry,
	}
	return &persistingTokenSource{
		inner:  g.cfg.TokenSource(ctx, token),
		users:  g.users,
		userID: userID,
		scopes: user.GrantedScopes,
		last:   token.AccessToken,
	}, nil
}

// persistingTokenSource writes refreshed access tokens back to the store so a
// later request does not repeat the refresh.
type persistingTokenSource struct {
	inner  oauth2.TokenSource
	users  UserStore
	userID string
	scopes string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if saveErr := p.users.SaveGoogleTokens(context.Background(), p.userID, token.AccessToken, token.RefreshToken, token.Expiry, p.scopes); saveErr != nil {
			log.Printf("Warning: failed to persist refreshed token for user %s: %v", p.userID, saveErr)
		}
	}
	return token, nil
}
