// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"mailflow_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail)
// =============================================================================

// MessageFormat selects how much of a message the provider returns.
type MessageFormat string

const (
	FormatFull     MessageFormat = "full"
	FormatMetadata MessageFormat = "metadata"
)

// ListOptions narrows a message listing.
type ListOptions struct {
	LabelIDs   []string
	Query      string
	PageToken  string
	MaxResults int64
}

// ListResult carries message ids in provider order.
type ListResult struct {
	IDs           []string
	NextPageToken string
}

// SendRequest is a composed blob plus optional thread placement.
type SendRequest struct {
	Raw      string
	ThreadID string
}

// SendResult identifies the delivered message.
type SendResult struct {
	ID       string
	ThreadID string
}

// MailProvider performs mailbox operations on behalf of a token holder.
type MailProvider interface {
	ListMessages(ctx context.Context, token *oauth2.Token, opts *ListOptions) (*ListResult, error)
	GetMessage(ctx context.Context, token *oauth2.Token, id string, format MessageFormat) (*domain.Message, error)
	SendMessage(ctx context.Context, token *oauth2.Token, req *SendRequest) (*SendResult, error)
	TrashMessage(ctx context.Context, token *oauth2.Token, id string) error
}

// Authenticator drives the OAuth2 authorization-code flow.
type Authenticator interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
	GetUserInfo(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error)
}

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
	ProviderErrUnavailable  ProviderErrorCode = "unavailable"
)

// ProviderError represents a provider error.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// ProviderErrorCodeOf returns the code of a wrapped ProviderError, or "".
func ProviderErrorCodeOf(err error) ProviderErrorCode {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return ""
}
