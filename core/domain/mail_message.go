package domain

import (
	"strings"
	"time"
)

// Gmail system labels used by the listing endpoints.
const (
	LabelInbox  = "INBOX"
	LabelSent   = "SENT"
	LabelUnread = "UNREAD"
)

// DatasetGmail tags detail records with their source mailbox.
const DatasetGmail = "gmail"

// Header is a single (name, value) pair as delivered by the provider.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeaderList keeps headers in provider order.
type HeaderList []Header

// Get returns the value of the first header whose name matches
// case-insensitively, or "" when there is none.
func (h HeaderList) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// MessagePart is one node of a message's MIME tree.
// Data holds base64url-encoded content for leaf parts.
type MessagePart struct {
	MimeType string
	Filename string
	Headers  HeaderList
	Data     string
	Children []*MessagePart
}

// Message is a provider message as fetched with format=full or format=metadata.
// Headers mirrors the top-level payload headers. Payload carries no body data
// for metadata fetches.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // milliseconds since epoch
	Headers      HeaderList
	Payload      *MessagePart
}

// HasLabel reports whether the message carries label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// ReceivedAt converts InternalDate to a time. Zero when unknown.
func (m *Message) ReceivedAt() time.Time {
	if m.InternalDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.InternalDate).UTC()
}

// OutboundMessage is the composer's intermediate form of a message to send.
type OutboundMessage struct {
	To         []string
	Subject    string
	Body       string
	InReplyTo  string
	References string
	ThreadID   string
}

// ThreadContext is the slice of an original message needed to reply to it.
type ThreadContext struct {
	ThreadID           string
	OriginalSubject    string
	ReplyToAddress     string
	OriginalMessageID  string
	OriginalReferences string
}

// EmailPreview is a list entry.
type EmailPreview struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
	Unread  bool      `json:"unread"`
}

// EmailDetail is a single rendered message.
type EmailDetail struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
	Dataset string    `json:"dataset"`
	Unread  bool      `json:"unread"`
}

// PaginatedEmails is a page of previews plus the provider's continuation token.
type PaginatedEmails struct {
	Messages      []*EmailPreview `json:"messages"`
	NextPageToken *string         `json:"nextPageToken"`
}
