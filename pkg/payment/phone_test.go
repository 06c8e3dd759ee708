package payment

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"leading zero", "0704371652", "254704371652"},
		{"bare nine digits", "704371652", "254704371652"},
		{"already canonical", "254704371652", "254704371652"},
		{"plus prefix", "+254704371652", "254704371652"},
		{"spaces and dashes", "+254 704-371-652", "254704371652"},
		{"safaricom 01 range", "0112299271", "254112299271"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.input)
			if err != nil {
				t.Fatalf("NormalizePhone(%q) error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizePhoneRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"12345",
		"07043716",       // too short
		"070437165299",   // too long
		"254804371652",   // not a 2547/2541 range
		"0804371652",     // normalizes to 2548, fails pattern
		"not-a-phone",
		"2547043716521",  // thirteen digits
	}
	for _, input := range inputs {
		if _, err := NormalizePhone(input); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("NormalizePhone(%q): want ErrInvalidPhone, got %v", input, err)
		}
	}
}
