package utils

import (
	"strings"
	"testing"
)

func TestIsValidChave(t *testing.T) {
	cases := []struct {
		in       string
		expected bool
	}{
		{strings.Repeat("4", 44), true},
		{strings.Repeat("4", 43), false},
		{strings.Repeat("4", 45), false},
		{strings.Repeat("4", 43) + "X", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidChave(tc.in); got != tc.expected {
			t.Fatalf("IsValidChave(%q) expected %v, got %v", tc.in, tc.expected, got)
		}
	}
}

func TestIsValidCNPJ(t *testing.T) {
	cases := []struct {
		in       string
		expected bool
	}{
		{"11222333000181", true},
		{"11444777000161", true},
		{"11222333000182", false}, // wrong check digit
		{"00000000000000", false}, // all same
		{"112223330001", false},   // too short
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidCNPJ(tc.in); got != tc.expected {
			t.Fatalf("IsValidCNPJ(%q) expected %v, got %v", tc.in, tc.expected, got)
		}
	}
}

func TestOnlyDigits(t *testing.T) {
	if got := OnlyDigits("11.222.333/0001-81"); got != "11222333000181" {
		t.Fatalf("OnlyDigits expected 11222333000181, got %s", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abcd..." {
		t.Fatalf("Truncate expected abcd..., got %s", got)
	}
	if got := Truncate("abc", 4); got != "abc" {
		t.Fatalf("Truncate expected abc, got %s", got)
	}
}
