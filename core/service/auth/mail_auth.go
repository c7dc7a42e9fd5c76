package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/out"
	"mailflow_server/pkg/apperr"
	"mailflow_server/pkg/logger"
)

const (
	providerName = "google"

	defaultStateTTL   = 10 * time.Minute
	defaultTokenLife  = time.Hour
	refreshLeeway     = 5 * time.Minute
	stateEntropyBytes = 32
)

// Service implements in.AuthService and hands valid tokens to the mail service.
type Service struct {
	authenticator out.Authenticator
	tokens        out.TokenRepository
	states        out.StateStore
	stateTTL      time.Duration
	now           func() time.Time
}

func NewService(authenticator out.Authenticator, tokens out.TokenRepository, states out.StateStore) *Service {
	return &Service{
		authenticator: authenticator,
		tokens:        tokens,
		states:        states,
		stateTTL:      defaultStateTTL,
		now:           time.Now,
	}
}

// LoginURL stores a fresh state value and returns the consent URL.
func (s *Service) LoginURL(ctx context.Context) (string, error) {
	state, err := generateSecureState()
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	if err := s.states.Save(ctx, state, s.stateTTL); err != nil {
		return "", apperr.InternalWithError(fmt.Errorf("store oauth state: %w", err))
	}
	return s.authenticator.AuthCodeURL(state), nil
}

// HandleCallback validates state, exchanges the code and stores the credential.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*domain.Token, error) {
	if code == "" {
		return nil, apperr.MissingField("code")
	}
	if state == "" {
		return nil, apperr.InvalidState()
	}
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, apperr.InternalWithError(fmt.Errorf("consume oauth state: %w", err))
	}
	if !ok {
		return nil, apperr.InvalidState()
	}

	tok, err := s.authenticator.ExchangeCode(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed(providerName, err)
	}

	profile, err := s.authenticator.GetUserInfo(ctx, tok)
	if err != nil {
		return nil, apperr.AuthFailed(fmt.Errorf("failed to fetch user info: %w", err))
	}
	if profile.Email == "" {
		return nil, apperr.BadRequest("Could not retrieve email from Google")
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = s.now().Add(defaultTokenLife)
	}

	saved, err := s.tokens.Save(ctx, &domain.Token{
		Email:        profile.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry.UTC(),
	})
	if err != nil {
		return nil, apperr.DatabaseError("save token", err)
	}

	logger.WithField("email", profile.Email).Info("[AuthService.HandleCallback] stored credentials")
	return saved, nil
}

// Status reports whether the session user has stored credentials.
func (s *Service) Status(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	_, err := s.tokens.GetByEmail(ctx, email)
	if errors.Is(err, out.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.DatabaseError("get token", err)
	}
	return true, nil
}

// Profile fetches the session user's Google profile.
func (s *Service) Profile(ctx context.Context, email string) (*domain.UserProfile, error) {
	if email == "" {
		return nil, apperr.AuthRequired("User must login")
	}
	stored, err := s.tokens.GetByEmail(ctx, email)
	if errors.Is(err, out.ErrTokenNotFound) {
		return nil, apperr.AuthRequired("User must login")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get token", err)
	}

	tok, err := s.ensureFresh(ctx, stored)
	if err != nil {
		return nil, err
	}

	profile, err := s.authenticator.GetUserInfo(ctx, tok)
	if err != nil {
		return nil, apperr.AuthFailed(err)
	}
	return profile, nil
}

// Logout forgets stored credentials. Without a session user nothing is removed.
func (s *Service) Logout(ctx context.Context, email string) error {
	if email == "" {
		return nil
	}
	if err := s.tokens.Clear(ctx); err != nil {
		return apperr.DatabaseError("clear tokens", err)
	}
	logger.WithField("email", email).Info("[AuthService.Logout] credentials cleared")
	return nil
}

// ValidToken returns the stored token, refreshing it when it is about to expire.
func (s *Service) ValidToken(ctx context.Context) (*oauth2.Token, error) {
	stored, err := s.tokens.Get(ctx)
	if errors.Is(err, out.ErrTokenNotFound) {
		return nil, apperr.AuthRequired("")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get token", err)
	}
	return s.ensureFresh(ctx, stored)
}

func (s *Service) ensureFresh(ctx context.Context, stored *domain.Token) (*oauth2.Token, error) {
	tok := toOAuth2(stored)
	if !stored.Expired(s.now(), refreshLeeway) || stored.RefreshToken == "" {
		return tok, nil
	}

	refreshed, err := s.authenticator.RefreshToken(ctx, tok)
	if err != nil {
		if isTokenRevokedError(err) {
			logger.WithError(err).Warn("[AuthService.ensureFresh] refresh token rejected, login required")
		}
		return nil, apperr.AuthFailed(err)
	}

	saved, err := s.tokens.Save(ctx, &domain.Token{
		Email:        stored.Email,
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		Expiry:       refreshed.Expiry.UTC(),
	})
	if err != nil {
		return nil, apperr.DatabaseError("save refreshed token", err)
	}

	logger.Debug("[AuthService.ensureFresh] token refreshed, expires %s", saved.Expiry.Format(time.RFC3339))
	return toOAuth2(saved), nil
}

func toOAuth2(t *domain.Token) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
		TokenType:    "Bearer",
	}
}

// isTokenRevokedError checks if the error indicates a permanent token failure.
func isTokenRevokedError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "Token has been expired or revoked")
}

func generateSecureState() (string, error) {
	b := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
