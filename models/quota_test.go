package models

import (
	"testing"
	"time"
)

func TestUsageMonthKey(t *testing.T) {
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	if got := UsageMonthKey(at); got != "2026-08" {
		t.Fatalf("UsageMonthKey expected 2026-08, got %s", got)
	}
	// month boundary rolls over in UTC, not local time
	late := time.Date(2026, 9, 1, 1, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	if got := UsageMonthKey(late); got != "2026-09" {
		t.Fatalf("UsageMonthKey expected 2026-09, got %s", got)
	}
}

func TestCanConsume(t *testing.T) {
	cases := []struct {
		used      int
		requested int
		limit     int
		expected  bool
	}{
		{48, 5, 50, false}, // rejects the whole batch, no partial consumption
		{48, 2, 50, true},
		{50, 1, 50, false},
		{0, 50, 50, true},
		{999, 10, -1, true}, // unmetered
		{50, 0, 50, true},   // nothing requested
	}
	for _, tc := range cases {
		if got := CanConsume(tc.used, tc.requested, tc.limit); got != tc.expected {
			t.Fatalf("CanConsume(%d, %d, %d) expected %v, got %v", tc.used, tc.requested, tc.limit, tc.expected, got)
		}
	}
}

func TestNearQuotaLimit(t *testing.T) {
	cases := []struct {
		used     int
		limit    int
		expected bool
	}{
		{39, 50, false},
		{40, 50, true}, // 80% of the limit
		{50, 50, true},
		{100, -1, false}, // unmetered plans never warn
		{0, 0, false},
	}
	for _, tc := range cases {
		if got := NearQuotaLimit(tc.used, tc.limit); got != tc.expected {
			t.Fatalf("NearQuotaLimit(%d, %d) expected %v, got %v", tc.used, tc.limit, tc.expected, got)
		}
	}
}

func TestAssinaturaHasAccess(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)
	lifetime := true
	notLifetime := false

	cases := []struct {
		name       string
		assinatura Assinatura
		expected   bool
	}{
		{"active", Assinatura{Status: StatusActive, IsLifetime: &notLifetime}, true},
		{"trialing", Assinatura{Status: StatusTrialing, IsLifetime: &notLifetime}, true},
		{"past_due", Assinatura{Status: StatusPastDue, IsLifetime: &notLifetime}, false},
		{"canceled", Assinatura{Status: StatusCanceled, IsLifetime: &notLifetime}, false},
		{"expired status", Assinatura{Status: StatusExpired, IsLifetime: &notLifetime}, false},
		{"active but past expiry", Assinatura{Status: StatusActive, IsLifetime: &notLifetime, ExpiresAt: &past}, false},
		{"active within expiry", Assinatura{Status: StatusActive, IsLifetime: &notLifetime, ExpiresAt: &future}, true},
		{"lifetime bypasses status", Assinatura{Status: StatusCanceled, IsLifetime: &lifetime, ExpiresAt: &past}, true},
	}
	for _, tc := range cases {
		if got := tc.assinatura.HasAccess(now); got != tc.expected {
			t.Fatalf("%s: HasAccess expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestMonthlyConversionLimit(t *testing.T) {
	starter := Assinatura{Plan: PlanStarter}
	professional := Assinatura{Plan: PlanProfessional}

	if got := starter.MonthlyConversionLimit(); got != 50 {
		t.Fatalf("starter default limit expected 50, got %d", got)
	}
	if got := professional.MonthlyConversionLimit(); got != -1 {
		t.Fatalf("professional limit expected -1, got %d", got)
	}

	t.Setenv("CONVERSION_MONTHLY_LIMIT", "120")
	if got := starter.MonthlyConversionLimit(); got != 120 {
		t.Fatalf("starter configured limit expected 120, got %d", got)
	}
}

func TestAmbienteCorreto(t *testing.T) {
	if !AmbienteCorreto("production") {
		t.Fatal("production must be the correct environment")
	}
	for _, env := range []string{"homologation", "staging", ""} {
		if AmbienteCorreto(env) {
			t.Fatalf("environment %q must be flagged", env)
		}
	}
}

func TestCertificadoIsExpiringSoon(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	unknown := Certificado{}
	if !unknown.IsExpiringSoon(now, window) {
		t.Fatal("unknown expiry must count as expiring")
	}

	soon := now.Add(10 * 24 * time.Hour)
	c := Certificado{ExpiresAt: &soon}
	if !c.IsExpiringSoon(now, window) {
		t.Fatal("expiry inside the window must be flagged")
	}

	far := now.Add(90 * 24 * time.Hour)
	c = Certificado{ExpiresAt: &far}
	if c.IsExpiringSoon(now, window) {
		t.Fatal("expiry outside the window must not be flagged")
	}
}
