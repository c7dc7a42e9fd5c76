// Package mail implements the Gmail read and write use cases.
package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/in"
	"mailflow_server/core/port/out"
	"mailflow_server/core/service/mime"
	"mailflow_server/pkg/apperr"
	"mailflow_server/pkg/logger"
)

const (
	inboxPageSize    = 20
	sentPageSize     = 10
	searchLimit      = 20
	fetchConcurrency = 5
)

// TokenSource supplies a usable access token for the stored account.
type TokenSource interface {
	ValidToken(ctx context.Context) (*oauth2.Token, error)
}

// Service implements in.MailService.
type Service struct {
	provider out.MailProvider
	tokens   TokenSource
}

var _ in.MailService = (*Service)(nil)

func NewService(provider out.MailProvider, tokens TokenSource) *Service {
	return &Service{provider: provider, tokens: tokens}
}

// previewFunc renders a fetched message into a list entry.
type previewFunc func(m *domain.Message) *domain.EmailPreview

func receivedPreview(m *domain.Message) *domain.EmailPreview {
	return &domain.EmailPreview{
		ID:      m.ID,
		Sender:  m.Headers.Get("From"),
		Subject: m.Headers.Get("Subject"),
		Snippet: m.Snippet,
		Date:    m.ReceivedAt(),
		Unread:  m.HasLabel(domain.LabelUnread),
	}
}

// sentPreview shows the recipient in the sender column. Sent mail is never unread.
func sentPreview(m *domain.Message) *domain.EmailPreview {
	p := receivedPreview(m)
	p.Sender = m.Headers.Get("To")
	p.Unread = false
	return p
}

func (s *Service) ListInbox(ctx context.Context, pageToken string) (*domain.PaginatedEmails, error) {
	return s.listPage(ctx, &out.ListOptions{
		LabelIDs:   []string{domain.LabelInbox},
		MaxResults: inboxPageSize,
		PageToken:  pageToken,
	}, receivedPreview)
}

func (s *Service) ListSent(ctx context.Context, pageToken string) (*domain.PaginatedEmails, error) {
	return s.listPage(ctx, &out.ListOptions{
		LabelIDs:   []string{domain.LabelSent},
		MaxResults: sentPageSize,
		PageToken:  pageToken,
	}, sentPreview)
}

// Search runs a Gmail query and renders at most searchLimit hits.
func (s *Service) Search(ctx context.Context, query string) ([]*domain.EmailPreview, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.MissingField("q")
	}

	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.provider.ListMessages(ctx, tok, &out.ListOptions{Query: query, MaxResults: searchLimit})
	if err != nil {
		return nil, mapProviderError(err)
	}

	ids := res.IDs
	if len(ids) > searchLimit {
		ids = ids[:searchLimit]
	}
	return s.fetchPreviews(ctx, tok, ids, receivedPreview)
}

func (s *Service) listPage(ctx context.Context, opts *out.ListOptions, render previewFunc) (*domain.PaginatedEmails, error) {
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.provider.ListMessages(ctx, tok, opts)
	if err != nil {
		return nil, mapProviderError(err)
	}
	if len(res.IDs) == 0 {
		return &domain.PaginatedEmails{Messages: []*domain.EmailPreview{}}, nil
	}

	previews, err := s.fetchPreviews(ctx, tok, res.IDs, render)
	if err != nil {
		return nil, err
	}

	page := &domain.PaginatedEmails{Messages: previews}
	if res.NextPageToken != "" {
		next := res.NextPageToken
		page.NextPageToken = &next
	}
	return page, nil
}

// fetchPreviews loads messages concurrently and keeps provider order.
// A message that fails to load is logged and left out; credential
// failures abort the whole listing.
func (s *Service) fetchPreviews(ctx context.Context, tok *oauth2.Token, ids []string, render previewFunc) ([]*domain.EmailPreview, error) {
	slots := make([]*domain.EmailPreview, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, err := s.provider.GetMessage(gctx, tok, id, out.FormatMetadata)
			if err != nil {
				if isCredentialError(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.WithContext(ctx).
					WithField("message_id", id).
					WithError(err).
					Warn("Error fetching message, skipping")
				return nil
			}
			slots[i] = render(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mapProviderError(err)
	}

	previews := make([]*domain.EmailPreview, 0, len(slots))
	for _, p := range slots {
		if p != nil {
			previews = append(previews, p)
		}
	}
	return previews, nil
}

// GetDetail renders a single message with its body.
func (s *Service) GetDetail(ctx context.Context, id string) (*domain.EmailDetail, error) {
	if id == "" {
		return nil, apperr.MissingField("message_id")
	}
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	m, err := s.provider.GetMessage(ctx, tok, id, out.FormatFull)
	if err != nil {
		return nil, mapProviderError(err)
	}

	body, err := mime.ExtractBody(m.Payload)
	if err != nil {
		return nil, mapMimeError(err)
	}

	return &domain.EmailDetail{
		ID:      m.ID,
		Sender:  m.Headers.Get("From"),
		Subject: m.Headers.Get("Subject"),
		Date:    m.ReceivedAt(),
		Body:    body,
		Dataset: domain.DatasetGmail,
		Unread:  m.HasLabel(domain.LabelUnread),
	}, nil
}

func (s *Service) Send(ctx context.Context, req *in.SendRequest) error {
	to, err := normalizeRecipients(req.To)
	if err != nil {
		return err
	}

	composed, err := mime.ComposeNew(to, req.Subject, req.Body)
	if err != nil {
		return mapMimeError(err)
	}
	return s.deliver(ctx, composed)
}

// Reply answers a message inside its thread.
func (s *Service) Reply(ctx context.Context, id string, body string) error {
	if id == "" {
		return apperr.MissingField("message_id")
	}
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}

	original, err := s.provider.GetMessage(ctx, tok, id, out.FormatMetadata)
	if err != nil {
		return mapProviderError(err)
	}

	composed, err := mime.ComposeReply(mime.NewThreadContext(original), body)
	if err != nil {
		return mapMimeError(err)
	}
	return s.sendWith(ctx, tok, composed)
}

// Forward quotes a message to new recipients as a separate conversation.
func (s *Service) Forward(ctx context.Context, id string, to []string, body string) error {
	if id == "" {
		return apperr.MissingField("message_id")
	}
	recipients, err := normalizeRecipients(to)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return mapMimeError(&mime.ValidationError{Field: "to", Reason: "at least one recipient is required"})
	}
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}

	original, err := s.provider.GetMessage(ctx, tok, id, out.FormatFull)
	if err != nil {
		return mapProviderError(err)
	}

	composed, err := mime.ComposeForward(original, recipients, body)
	if err != nil {
		return mapMimeError(err)
	}
	return s.sendWith(ctx, tok, composed)
}

// Delete moves a message to trash.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperr.MissingField("message_id")
	}
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}
	if err := s.provider.TrashMessage(ctx, tok, id); err != nil {
		return mapProviderError(err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, composed *mime.Composed) error {
	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}
	return s.sendWith(ctx, tok, composed)
}

func (s *Service) sendWith(ctx context.Context, tok *oauth2.Token, composed *mime.Composed) error {
	res, err := s.provider.SendMessage(ctx, tok, &out.SendRequest{
		Raw:      composed.Raw,
		ThreadID: composed.ThreadID,
	})
	if err != nil {
		return mapProviderError(err)
	}
	logger.WithContext(ctx).
		WithFields(map[string]any{"message_id": res.ID, "thread_id": res.ThreadID}).
		Info("Message sent")
	return nil
}

// normalizeRecipients trims and validates each address. Blank entries are
// dropped; callers decide whether an empty result is an error.
func normalizeRecipients(to []string) ([]string, error) {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, err := netmail.ParseAddress(addr); err != nil {
			return nil, apperr.ValidationFailed(fmt.Sprintf("invalid recipient address: %s", addr)).
				WithDetail("field", "to")
		}
		out = append(out, addr)
	}
	return out, nil
}

func isCredentialError(err error) bool {
	switch out.ProviderErrorCodeOf(err) {
	case out.ProviderErrAuth, out.ProviderErrTokenExpired:
		return true
	}
	return false
}

func mapMimeError(err error) error {
	var vErr *mime.ValidationError
	switch {
	case errors.As(err, &vErr):
		return apperr.ValidationFailed(vErr.Error()).WithDetail("field", vErr.Field)
	case errors.Is(err, mime.ErrDecode), errors.Is(err, mime.ErrMissingData):
		return apperr.MalformedMessage(err)
	default:
		return apperr.InternalWithError(err)
	}
}

func mapProviderError(err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("gmail")
	}
	switch out.ProviderErrorCodeOf(err) {
	case out.ProviderErrAuth, out.ProviderErrTokenExpired:
		return apperr.AuthFailed(err)
	case out.ProviderErrNotFound:
		return apperr.NotFound("message")
	case out.ProviderErrRateLimit:
		return apperr.RateLimited("gmail")
	case out.ProviderErrInvalidInput:
		return apperr.BadRequest(err.Error())
	case out.ProviderErrUnavailable:
		return apperr.Unavailable("gmail", err)
	default:
		return apperr.ExternalError("gmail", err)
	}
}
