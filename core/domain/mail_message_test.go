package domain

import (
	"testing"
	"time"
)

func TestHeaderList_Get(t *testing.T) {
	headers := HeaderList{
		{Name: "From", Value: "alice@example.com"},
		{Name: "subject", Value: "first"},
		{Name: "Subject", Value: "second"},
		{Name: "Message-Id", Value: "<a@x>"},
	}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"exact", "From", "alice@example.com"},
		{"case insensitive", "FROM", "alice@example.com"},
		{"first match wins", "Subject", "first"},
		{"mixed case id", "Message-ID", "<a@x>"},
		{"absent", "Reply-To", ""},
		{"no prefix match", "Fro", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headers.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	var empty HeaderList
	if got := empty.Get("From"); got != "" {
		t.Errorf("nil HeaderList Get() = %q, want empty", got)
	}
}

func TestMessage_HasLabel(t *testing.T) {
	m := &Message{LabelIDs: []string{LabelInbox, LabelUnread}}
	if !m.HasLabel(LabelUnread) {
		t.Error("HasLabel(UNREAD) = false")
	}
	if m.HasLabel(LabelSent) {
		t.Error("HasLabel(SENT) = true")
	}
}

func TestMessage_ReceivedAt(t *testing.T) {
	m := &Message{InternalDate: 1600000000000}
	want := time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)
	if got := m.ReceivedAt(); !got.Equal(want) {
		t.Errorf("ReceivedAt() = %v, want %v", got, want)
	}
	if got := (&Message{}).ReceivedAt(); !got.IsZero() {
		t.Errorf("ReceivedAt() without date = %v, want zero", got)
	}
}

func TestToken_Expired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry never expires", time.Time{}, false},
		{"far future", now.Add(time.Hour), false},
		{"inside leeway", now.Add(2 * time.Minute), true},
		{"past", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{Expiry: tt.expiry}
			if got := tok.Expired(now, 5*time.Minute); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
