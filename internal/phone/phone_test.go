package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"+49 170 1234567", "+491701234567"},
		{"  +15551234567  ", "+15551234567"},
		{"+1-555-123-4567", "+15551234567"},
		{"5551234567", "+5551234567"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_SameCanonicalForm(t *testing.T) {
	// The formatted outbound number and the bare webhook sender id must
	// resolve to the same record.
	a, err := Normalize("+1 (555) 123-4567")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize("15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("canonical forms differ: %q vs %q", a, b)
	}
}

func TestNormalize_PrefixlessShortNumber(t *testing.T) {
	// A ten-digit number with and without '+' is the same customer.
	bare, err := Normalize("5551234567")
	if err != nil {
		t.Fatal(err)
	}
	prefixed, err := Normalize("+5551234567")
	if err != nil {
		t.Fatal(err)
	}
	if bare != prefixed {
		t.Fatalf("canonical forms differ: %q vs %q", bare, prefixed)
	}
	if bare != "+5551234567" {
		t.Fatalf("Normalize(\"5551234567\") = %q, want %q", bare, "+5551234567")
	}
}

func TestNormalize_Empty(t *testing.T) {
	if _, err := Normalize(""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
	if _, err := Normalize("   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty for whitespace, got %v", err)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"abc", "+", "0123456789012", "()- "} {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Normalize(%q): want ErrInvalid, got %v", in, err)
		}
	}
}

func TestNormalize_PlusNotFirst(t *testing.T) {
	got, err := Normalize("1555+1234567")
	if err != nil {
		t.Fatal(err)
	}
	if got != "+15551234567" {
		t.Fatalf("interior plus not dropped: %q", got)
	}
}

func TestNormalizeTemplateName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Order Update", "order_update"},
		{"  Order   Update ", "order_update"},
		{"welcome", "welcome"},
		{"OTP Code V2", "otp_code_v2"},
	}
	for _, tc := range cases {
		if got := NormalizeTemplateName(tc.in); got != tc.want {
			t.Fatalf("NormalizeTemplateName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
