package mime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"mailflow_server/core/domain"
)

const (
	replyPrefix       = "Re: "
	forwardPrefix     = "Fwd: "
	forwardSeparator  = "---------- Forwarded message ---------"
	forwardDateLayout = time.RFC1123Z
)

// Composed is a transfer-ready message: Raw is the URL-safe base64 of the
// RFC 5322 bytes. ThreadID is set only for replies.
type Composed struct {
	Raw      string
	ThreadID string
}

// ComposeNew builds a fresh message. The provider fills From.
func ComposeNew(to []string, subject, body string) (*Composed, error) {
	if len(to) == 0 {
		return nil, &ValidationError{Field: "to", Reason: "at least one recipient is required"}
	}
	return Build(&domain.OutboundMessage{
		To:      to,
		Subject: subject,
		Body:    body,
	})
}

// NewThreadContext extracts what a reply needs from the original message.
// Reply-To takes precedence over From as the reply address.
func NewThreadContext(original *domain.Message) *domain.ThreadContext {
	replyTo := original.Headers.Get("Reply-To")
	if replyTo == "" {
		replyTo = original.Headers.Get("From")
	}
	return &domain.ThreadContext{
		ThreadID:           original.ThreadID,
		OriginalSubject:    original.Headers.Get("Subject"),
		ReplyToAddress:     replyTo,
		OriginalMessageID:  original.Headers.Get("Message-ID"),
		OriginalReferences: original.Headers.Get("References"),
	}
}

// ComposeReply builds a reply in the original's thread. Threading headers are
// only emitted when the original carried a Message-ID.
func ComposeReply(tc *domain.ThreadContext, body string) (*Composed, error) {
	if tc == nil {
		return nil, &MissingDataError{What: "thread context"}
	}

	msg := &domain.OutboundMessage{
		Subject:  prefixSubject(tc.OriginalSubject, replyPrefix),
		Body:     body,
		ThreadID: tc.ThreadID,
	}
	if tc.ReplyToAddress != "" {
		msg.To = []string{tc.ReplyToAddress}
	}
	if id := tc.OriginalMessageID; id != "" {
		msg.InReplyTo = id
		msg.References = id
		if tc.OriginalReferences != "" {
			msg.References = tc.OriginalReferences + " " + id
		}
	}
	return Build(msg)
}

// ComposeForward quotes the original below extraBody and sends it as a new
// conversation.
func ComposeForward(original *domain.Message, to []string, extraBody string) (*Composed, error) {
	if len(to) == 0 {
		return nil, &ValidationError{Field: "to", Reason: "at least one recipient is required"}
	}
	if original == nil {
		return nil, &MissingDataError{What: "original message"}
	}

	quoted, err := ExtractBody(original.Payload)
	if err != nil {
		return nil, err
	}

	subject := original.Headers.Get("Subject")

	var b strings.Builder
	b.WriteString(extraBody)
	b.WriteString("\n\n")
	b.WriteString(forwardSeparator + "\n")
	fmt.Fprintf(&b, "From: %s\n", original.Headers.Get("From"))
	fmt.Fprintf(&b, "Date: %s\n", forwardDate(original))
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	b.WriteString("\n")
	b.WriteString(quoted)

	return Build(&domain.OutboundMessage{
		To:      to,
		Subject: prefixSubject(subject, forwardPrefix),
		Body:    b.String(),
	})
}

// Build serializes msg as a single-part text/plain message.
func Build(msg *domain.OutboundMessage) (*Composed, error) {
	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetContentType(mimeTextPlain, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "base64")
	if len(msg.To) > 0 {
		h.Set("To", strings.Join(msg.To, ", "))
	}
	h.SetSubject(msg.Subject)
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		h.Set("References", msg.References)
	}

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return &Composed{
		Raw:      base64.URLEncoding.EncodeToString(buf.Bytes()),
		ThreadID: msg.ThreadID,
	}, nil
}

// prefixSubject adds prefix unless subject already starts with it, ignoring case.
func prefixSubject(subject, prefix string) string {
	marker := strings.TrimSpace(prefix)
	if len(subject) >= len(marker) && strings.EqualFold(subject[:len(marker)], marker) {
		return subject
	}
	return prefix + subject
}

func forwardDate(m *domain.Message) string {
	if t := m.ReceivedAt(); !t.IsZero() {
		return t.Format(forwardDateLayout)
	}
	return m.Headers.Get("Date")
}
