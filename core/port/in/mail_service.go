package in

import (
	"context"

	"mailflow_server/core/domain"
)

// MailService serves the Gmail endpoints for the stored account.
type MailService interface {
	ListInbox(ctx context.Context, pageToken string) (*domain.PaginatedEmails, error)
	ListSent(ctx context.Context, pageToken string) (*domain.PaginatedEmails, error)
	Search(ctx context.Context, query string) ([]*domain.EmailPreview, error)
	GetDetail(ctx context.Context, id string) (*domain.EmailDetail, error)

	Send(ctx context.Context, req *SendRequest) error
	Reply(ctx context.Context, id string, body string) error
	Forward(ctx context.Context, id string, to []string, body string) error
	Delete(ctx context.Context, id string) error
}

// SendRequest is the payload of POST /gmail/send.
type SendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// ReplyRequest is the payload of POST /gmail/messages/:id/reply.
type ReplyRequest struct {
	Body string `json:"body"`
}

// ForwardRequest is the payload of POST /gmail/messages/:id/forward.
type ForwardRequest struct {
	To   []string `json:"to"`
	Body string   `json:"body"`
}

// AuthService drives login, session status and logout.
type AuthService interface {
	LoginURL(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*domain.Token, error)
	Status(ctx context.Context, email string) (bool, error)
	Profile(ctx context.Context, email string) (*domain.UserProfile, error)
	Logout(ctx context.Context, email string) error
}
