package api

import (
	"errors"
	"testing"

	"github.com/linklocal/pairgate/internal/pairing"
)

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain digits", input: "447911123456", want: "447911123456"},
		{name: "international prefix", input: "+44 7911 123456", want: "447911123456"},
		{name: "dashes and parens", input: "(44) 7911-123-456", want: "447911123456"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "letters", input: "44bogus79", wantErr: true},
		{name: "too short", input: "12345", wantErr: true},
		{name: "too long", input: "1234567890123456", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTarget(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got %q", tt.input, got)
				}
				if !errors.Is(err, pairing.ErrInvalidTarget) {
					t.Errorf("Expected ErrInvalidTarget, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
