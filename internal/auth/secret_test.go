package auth_test

import (
	"bytes"
	"testing"

	"github.com/omochice/toy-messenger/internal/auth"
)

func TestDeriveSecret(t *testing.T) {
	a1, err := auth.DeriveSecret("passphrase")
	if err != nil {
		t.Fatalf("DeriveSecret() error = %v", err)
	}
	a2, _ := auth.DeriveSecret("passphrase")
	b, _ := auth.DeriveSecret("other passphrase")

	if len(a1) != auth.SecretSize {
		t.Errorf("len = %d, want %d", len(a1), auth.SecretSize)
	}
	if !bytes.Equal(a1, a2) {
		t.Error("derivation must be deterministic")
	}
	if bytes.Equal(a1, b) {
		t.Error("different passphrases produced the same secret")
	}

	if _, err := auth.DeriveSecret(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestNewSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"exact size", bytes.Repeat([]byte{1}, auth.SecretSize), false},
		{"too short", []byte{1, 2, 3}, true},
		{"too long", bytes.Repeat([]byte{1}, auth.SecretSize+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := auth.NewSecret(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				tt.in[0] = 0xFF
				if s[0] == 0xFF {
					t.Error("NewSecret must copy its input")
				}
			}
		})
	}
}

func TestSecret_StringHidesKey(t *testing.T) {
	s, _ := auth.DeriveSecret("hidden")
	if got := s.String(); got != "Secret(32 bytes)" {
		t.Errorf("String() = %q", got)
	}
}
