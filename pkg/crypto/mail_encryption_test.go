package crypto

import (
	"errors"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"short key is stretched", "secret"},
		{"32 byte key", "0123456789abcdef0123456789abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor([]byte(tt.key))
			if err != nil {
				t.Fatalf("NewEncryptor() error = %v", err)
			}

			ct, err := enc.Encrypt("ya29.access-token")
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if ct == "ya29.access-token" {
				t.Fatal("Encrypt() returned plaintext")
			}
			if !IsEncrypted(ct) {
				t.Errorf("IsEncrypted(%q) = false", ct)
			}

			pt, err := enc.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if pt != "ya29.access-token" {
				t.Errorf("Decrypt() = %q, want original", pt)
			}
		})
	}
}

func TestEncryptor_Empty(t *testing.T) {
	enc, _ := NewEncryptor([]byte("k"))
	ct, err := enc.Encrypt("")
	if err != nil || ct != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want empty, nil", ct, err)
	}
	pt, err := enc.Decrypt("")
	if err != nil || pt != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; want empty, nil", pt, err)
	}
}

func TestEncryptor_WrongKey(t *testing.T) {
	a, _ := NewEncryptor([]byte("key-a"))
	b, _ := NewEncryptor([]byte("key-b"))

	ct, _ := a.Encrypt("token")
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestNewEncryptor_EmptyKey(t *testing.T) {
	if _, err := NewEncryptor(nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("NewEncryptor(nil) error = %v, want ErrEmptyKey", err)
	}
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"ya29.a0AfH6SMB", false},
		{"1//0gLx-refresh", false},
		{"c2hvcnQ=", false},
	}
	for _, tt := range tests {
		if got := IsEncrypted(tt.in); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
