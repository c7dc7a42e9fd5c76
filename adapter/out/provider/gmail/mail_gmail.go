// Package gmail adapts the Gmail REST API and Google OAuth to the outbound ports.
package gmail

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/out"
	"mailflow_server/pkg/logger"
)

const (
	providerName = "gmail"
	userID       = "me"

	defaultCallTimeout = 30 * time.Second
	defaultRatePerSec  = 10
)

// metadataHeaders are the headers requested when only previews or thread
// context are needed.
var metadataHeaders = []string{
	"From", "To", "Subject", "Date",
	"Message-ID", "References", "Reply-To",
}

// Config holds Gmail adapter settings.
type Config struct {
	// RequestsPerSecond caps outbound API calls. Zero uses the default.
	RequestsPerSecond float64
	// CallTimeout bounds a single API call when the caller set no deadline.
	CallTimeout time.Duration
	// HTTPClient is the base transport. The OAuth bearer is layered on top.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Adapter implements out.MailProvider for Gmail.
type Adapter struct {
	httpClient  *http.Client
	endpoint    string
	callTimeout time.Duration
	limiter     *rate.Limiter
	cb          *gobreaker.CircuitBreaker
}

var _ out.MailProvider = (*Adapter)(nil)

// NewAdapter creates a Gmail adapter.
func NewAdapter(cfg *Config) *Adapter {
	if cfg == nil {
		cfg = &Config{}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors count as successes
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("[CircuitBreaker] state changed")
		},
	}

	return &Adapter{
		httpClient:  cfg.HTTPClient,
		endpoint:    cfg.Endpoint,
		callTimeout: timeout,
		limiter:     rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// ListMessages returns message ids for a label or query listing.
func (a *Adapter) ListMessages(ctx context.Context, token *oauth2.Token, opts *out.ListOptions) (*out.ListResult, error) {
	if opts == nil {
		opts = &out.ListOptions{}
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	req := svc.Users.Messages.List(userID)
	if opts.MaxResults > 0 {
		req = req.MaxResults(opts.MaxResults)
	}
	if len(opts.LabelIDs) > 0 {
		req = req.LabelIds(opts.LabelIDs...)
	}
	if opts.Query != "" {
		req = req.Q(opts.Query)
	}
	if opts.PageToken != "" {
		req = req.PageToken(opts.PageToken)
	}

	var resp *gmailapi.ListMessagesResponse
	err = a.execute(ctx, "ListMessages", func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	result := &out.ListResult{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			result.IDs = append(result.IDs, m.Id)
		}
	}
	return result, nil
}

// GetMessage fetches one message in the requested format.
func (a *Adapter) GetMessage(ctx context.Context, token *oauth2.Token, id string, format out.MessageFormat) (*domain.Message, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Messages.Get(userID, id).Format(string(format))
	if format == out.FormatMetadata {
		call = call.MetadataHeaders(metadataHeaders...)
	}

	var msg *gmailapi.Message
	err = a.execute(ctx, "GetMessage", func() error {
		var apiErr error
		msg, apiErr = call.Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get message")
	}
	return convertMessage(msg), nil
}

// SendMessage submits an already composed blob.
func (a *Adapter) SendMessage(ctx context.Context, token *oauth2.Token, req *out.SendRequest) (*out.SendResult, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	payload := &gmailapi.Message{Raw: req.Raw, ThreadId: req.ThreadID}

	var sent *gmailapi.Message
	err = a.execute(ctx, "SendMessage", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send(userID, payload).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to send message")
	}
	return &out.SendResult{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// TrashMessage moves a message to trash. Gmail treats trashing twice as success.
func (a *Adapter) TrashMessage(ctx context.Context, token *oauth2.Token, id string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return err
	}

	err = a.execute(ctx, "TrashMessage", func() error {
		_, apiErr := svc.Users.Messages.Trash(userID, id).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return a.wrapError(err, "failed to trash message")
	}
	return nil
}

// CircuitState reports the breaker state for readiness checks.
func (a *Adapter) CircuitState() string {
	return a.cb.State().String()
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.callTimeout)
}

func (a *Adapter) service(ctx context.Context, token *oauth2.Token) (*gmailapi.Service, error) {
	if token == nil || token.AccessToken == "" {
		return nil, out.NewProviderError(providerName, out.ProviderErrAuth, "missing access token", nil, false)
	}

	clientCtx := ctx
	if a.httpClient != nil {
		clientCtx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(token))),
	}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrServer, "failed to create gmail service", err, false)
	}
	return svc, nil
}

// execute waits for the rate limiter and runs fn behind the circuit breaker.
// Client errors are passed through without counting as failures.
func (a *Adapter) execute(ctx context.Context, operation string, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		logger.WithFields(map[string]any{
			"operation": operation,
			"state":     a.cb.State().String(),
		}).WithError(err).Warn("[GmailAdapter] call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (a *Adapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(providerName, out.ProviderErrUnavailable, "Gmail temporarily unavailable", err, true)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return out.NewProviderError(providerName, out.ProviderErrNetwork, defaultMsg, err, true)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return out.NewProviderError(providerName, out.ProviderErrAuth, "Token rejected", err, false)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest:
			return out.NewProviderError(providerName, out.ProviderErrInvalidInput, apiErr.Message, err, false)
		case http.StatusUnauthorized:
			return out.NewProviderError(providerName, out.ProviderErrTokenExpired, "Token expired", err, false)
		case http.StatusForbidden:
			if isRateLimitReason(apiErr) {
				return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError(providerName, out.ProviderErrAuth, "Access denied", err, false)
		case http.StatusNotFound:
			return out.NewProviderError(providerName, out.ProviderErrNotFound, "Not found", err, false)
		case http.StatusTooManyRequests:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Too many requests", err, true)
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return out.NewProviderError(providerName, out.ProviderErrServer, "Server error", err, true)
		}
	}

	return out.NewProviderError(providerName, out.ProviderErrServer, defaultMsg, err, true)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "Rate Limit")
}

// =============================================================================
// Conversion
// =============================================================================

func convertMessage(m *gmailapi.Message) *domain.Message {
	if m == nil {
		return &domain.Message{}
	}
	msg := &domain.Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		LabelIDs:     m.LabelIds,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
	}
	if m.Payload != nil {
		msg.Headers = convertHeaders(m.Payload.Headers)
		msg.Payload = convertPart(m.Payload)
	}
	return msg
}

func convertPart(p *gmailapi.MessagePart) *domain.MessagePart {
	if p == nil {
		return nil
	}
	part := &domain.MessagePart{
		MimeType: p.MimeType,
		Filename: p.Filename,
		Headers:  convertHeaders(p.Headers),
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if c := convertPart(child); c != nil {
			part.Children = append(part.Children, c)
		}
	}
	return part
}

func convertHeaders(headers []*gmailapi.MessagePartHeader) domain.HeaderList {
	if len(headers) == 0 {
		return nil
	}
	list := make(domain.HeaderList, 0, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		list = append(list, domain.Header{Name: h.Name, Value: h.Value})
	}
	return list
}
