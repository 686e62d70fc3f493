package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"socialauth/internal/domain"
	"socialauth/internal/repository"
)

func newTestOTPService(opts OTPOptions) (*OTPService, repository.OTPRepository, *clock) {
	store := repository.NewMemoryOTPRepository()
	svc := NewOTPService(store, nil, opts)
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = c.now
	return svc, store, c
}

func TestOTPService_ScopeIsCaseInsensitive(t *testing.T) {
	svc, store, _ := newTestOTPService(OTPOptions{})
	ctx := context.Background()

	issued, err := svc.Request(ctx, domain.ChannelEmail, " Foo@Example.com ", domain.OTPPurposeSignup)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := store.Get(ctx, "email:foo@example.com"); err != nil {
		t.Fatalf("expected record under normalized scope: %v", err)
	}
	if len(issued.Code) != 6 || !isValidOTPCode(issued.Code) {
		t.Fatalf("expected 6-digit code, got %q", issued.Code)
	}
	if issued.ExpiresInSec != 300 {
		t.Fatalf("expected 300s expiry, got %d", issued.ExpiresInSec)
	}
	if issued.MaskedDestination != "f***@example.com" {
		t.Fatalf("unexpected mask %q", issued.MaskedDestination)
	}

	if _, err := svc.Verify(ctx, domain.ChannelEmail, "foo@example.com", issued.Code, domain.OTPPurposeSignup); err != nil {
		t.Fatalf("verify with different case: %v", err)
	}
}

func TestOTPService_Supersession(t *testing.T) {
	svc, _, _ := newTestOTPService(OTPOptions{})
	ctx := context.Background()

	first, err := svc.Request(ctx, domain.ChannelPhone, "+1 (555) 123-4567", domain.OTPPurposeSignup)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := svc.Request(ctx, domain.ChannelPhone, "15551234567", domain.OTPPurposeSignup)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if first.Code != second.Code {
		if _, err := svc.Verify(ctx, domain.ChannelPhone, "15551234567", first.Code); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("expected first code invalid after reissue, got %v", err)
		}
	}
	if _, err := svc.Verify(ctx, domain.ChannelPhone, "15551234567", second.Code); err != nil {
		t.Fatalf("expected second code valid: %v", err)
	}
}

func TestOTPService_SingleUse(t *testing.T) {
	svc, _, _ := newTestOTPService(OTPOptions{})
	ctx := context.Background()

	issued, err := svc.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeReset)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rec, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code, domain.OTPPurposeReset)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if rec.Purpose != domain.OTPPurposeReset || rec.Identifier != "a@example.com" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected second verify to fail with ErrOTPNotRequested, got %v", err)
	}
}

func TestOTPService_ExpiredIsDeleted(t *testing.T) {
	svc, store, c := newTestOTPService(OTPOptions{})
	ctx := context.Background()

	issued, err := svc.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	c.t = c.t.Add(5*time.Minute + time.Second)
	if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if _, err := store.Get(ctx, "email:a@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired record deleted, got %v", err)
	}
}

func TestOTPService_WrongPurposeKeepsRecord(t *testing.T) {
	svc, _, _ := newTestOTPService(OTPOptions{})
	ctx := context.Background()

	issued, _ := svc.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup)
	if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code, domain.OTPPurposeReset); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid for wrong purpose, got %v", err)
	}
	if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code, domain.OTPPurposeSignup); err != nil {
		t.Fatalf("expected record kept after purpose mismatch: %v", err)
	}
}

func TestOTPService_AttemptsExhausted(t *testing.T) {
	svc, store, _ := newTestOTPService(OTPOptions{MaxAttempts: 3})
	ctx := context.Background()

	issued, _ := svc.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup)
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", wrong); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrOTPInvalid, got %v", i, err)
		}
	}
	if _, err := store.Get(ctx, "email:a@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected record deleted after max attempts, got %v", err)
	}
	if _, err := svc.Verify(ctx, domain.ChannelEmail, "a@example.com", issued.Code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected correct code rejected after lockout, got %v", err)
	}
}

func TestOTPService_BypassCode(t *testing.T) {
	ctx := context.Background()

	withBypass, _, _ := newTestOTPService(OTPOptions{BypassCode: "424242"})
	if _, err := withBypass.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := withBypass.Verify(ctx, domain.ChannelEmail, "a@example.com", "424242"); err != nil {
		t.Fatalf("expected bypass code accepted: %v", err)
	}

	without, _, _ := newTestOTPService(OTPOptions{})
	issued, _ := without.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup)
	if issued.Code != "424242" {
		if _, err := without.Verify(ctx, domain.ChannelEmail, "a@example.com", "424242"); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("expected bypass rejected when not configured, got %v", err)
		}
	}
}

func TestOTPService_RateLimited(t *testing.T) {
	store := repository.NewMemoryOTPRepository()
	svc := NewOTPService(store, NewOTPRateLimiter(time.Minute, 1), OTPOptions{})
	ctx := context.Background()

	if _, err := svc.Request(ctx, domain.ChannelEmail, "a@example.com", domain.OTPPurposeSignup); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := svc.Request(ctx, domain.ChannelEmail, "A@example.com", domain.OTPPurposeSignup); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := []struct {
		channel domain.Channel
		in      string
		want    string
		ok      bool
	}{
		{domain.ChannelEmail, " User@Mail.COM ", "user@mail.com", true},
		{domain.ChannelEmail, "no-at-sign", "", false},
		{domain.ChannelEmail, "a@b@c", "", false},
		{domain.ChannelPhone, "+44 (20) 7946-0958", "442079460958", true},
		{domain.ChannelPhone, "12-34", "", false},
		{domain.Channel("fax"), "123", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeIdentifier(tc.channel, tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%s %q: got %q, %v", tc.channel, tc.in, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Fatalf("%s %q: expected ErrValidation, got %v", tc.channel, tc.in, err)
		}
	}
}

func TestMaskDestination(t *testing.T) {
	if got := MaskDestination(domain.ChannelPhone, "15551234567"); got != "***4567" {
		t.Fatalf("unexpected phone mask %q", got)
	}
	if got := MaskDestination(domain.ChannelEmail, "bob@example.com"); got != "b***@example.com" {
		t.Fatalf("unexpected email mask %q", got)
	}
}
