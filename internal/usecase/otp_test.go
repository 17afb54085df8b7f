package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
)

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestOTPService_RequestSendsCodeAndStoresHashOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, " Alice@X.com ", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	if issue.TransactionToken == "" {
		t.Fatalf("expected transaction token")
	}
	if issue.Code != "" {
		t.Fatalf("code must not be echoed outside dev mode")
	}
	if want := h.clock.Now().Add(5 * time.Minute); !issue.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, issue.ExpiresAt)
	}

	mail := h.mailer.last()
	if mail.to != "alice@x.com" || mail.kind != domain.MailLoginCode {
		t.Fatalf("unexpected mail %+v", mail)
	}
	if len(mail.data["code"]) != 6 {
		t.Fatalf("expected six digit code, got %q", mail.data["code"])
	}

	challenge, err := h.challenges.GetByTransactionHash(ctx, security.HashToken(issue.TransactionToken))
	if err != nil {
		t.Fatalf("challenge not stored: %v", err)
	}
	if challenge.CodeHash == mail.data["code"] || challenge.TransactionTokenHash == issue.TransactionToken {
		t.Fatalf("raw secrets must not be stored")
	}
	if challenge.AttemptsRemaining != 5 {
		t.Fatalf("expected 5 attempts, got %d", challenge.AttemptsRemaining)
	}
	if h.metrics.get("otp_issued", "login") != 1 {
		t.Fatalf("expected issued metric")
	}
}

func TestOTPService_ResendWithinIntervalKeepsSingleActiveChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("first RequestOTP returned error: %v", err)
	}

	h.clock.Advance(10 * time.Second)
	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n := h.challenges.active("alice@x.com", domain.PurposeLogin, h.clock.Now()); n != 1 {
		t.Fatalf("expected one active challenge, got %d", n)
	}

	h.clock.Advance(60 * time.Second)
	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin); err != nil {
		t.Fatalf("resend after interval returned error: %v", err)
	}
	if n := h.challenges.active("alice@x.com", domain.PurposeLogin, h.clock.Now()); n != 1 {
		t.Fatalf("expected one active challenge after resend, got %d", n)
	}

	// the superseded challenge can no longer be verified, even with its own code
	firstCode := h.mailer.sent[0].data["code"]
	if _, err := h.otp.VerifyOTP(ctx, first.TransactionToken, firstCode, domain.PurposeLogin); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for superseded challenge, got %v", err)
	}
}

func TestOTPService_PurposesAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin); err != nil {
		t.Fatalf("login RequestOTP returned error: %v", err)
	}
	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposePasswordReset); err != nil {
		t.Fatalf("reset RequestOTP returned error: %v", err)
	}
	if n := h.challenges.active("alice@x.com", domain.PurposeLogin, h.clock.Now()); n != 1 {
		t.Fatalf("expected login challenge to stay active, got %d", n)
	}
}

func TestOTPService_VerifySucceedsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeRegister)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	code := h.mailer.codeFor(t, "alice@x.com")

	verification, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeRegister)
	if err != nil {
		t.Fatalf("VerifyOTP returned error: %v", err)
	}
	if verification.Email != "alice@x.com" || verification.Purpose != domain.PurposeRegister {
		t.Fatalf("unexpected verification %+v", verification)
	}

	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeRegister); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}
	if h.metrics.get("otp_verified", "register", "success") != 1 {
		t.Fatalf("expected one successful verification metric")
	}
}

func TestOTPService_ExpiredCorrectCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	code := h.mailer.codeFor(t, "alice@x.com")

	h.clock.Advance(5*time.Minute + time.Second)

	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeLogin); !errors.Is(err, domain.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
}

func TestOTPService_SixthAttemptIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	code := h.mailer.codeFor(t, "alice@x.com")
	bad := wrongCode(code)

	for attempt := 1; attempt <= 4; attempt++ {
		if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, bad, domain.PurposeLogin); !errors.Is(err, domain.ErrInvalidOTP) {
			t.Fatalf("attempt %d: expected ErrInvalidOTP, got %v", attempt, err)
		}
	}
	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, bad, domain.PurposeLogin); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("fifth wrong attempt: expected ErrTooManyAttempts, got %v", err)
	}

	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeLogin); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("sixth attempt with correct code: expected ErrTooManyAttempts, got %v", err)
	}
}

func TestOTPService_MalformedCodeSpendsAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}

	for _, code := range []string{"", "12ab56", "1234567"} {
		if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeLogin); !errors.Is(err, domain.ErrInvalidOTP) {
			t.Fatalf("code %q: expected ErrInvalidOTP, got %v", code, err)
		}
	}

	challenge, err := h.challenges.GetByTransactionHash(ctx, security.HashToken(issue.TransactionToken))
	if err != nil {
		t.Fatalf("GetByTransactionHash: %v", err)
	}
	if challenge.AttemptsRemaining != 2 {
		t.Fatalf("expected 2 attempts left, got %d", challenge.AttemptsRemaining)
	}
}

func TestOTPService_WrongPurposeOrUnknownToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeRegister)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	code := h.mailer.codeFor(t, "alice@x.com")

	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeLogin); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong purpose, got %v", err)
	}
	if _, err := h.otp.VerifyOTP(ctx, "not-a-token", code, domain.PurposeRegister); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown token, got %v", err)
	}

	// neither call touched the real challenge
	if _, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeRegister); err != nil {
		t.Fatalf("expected challenge to stay usable, got %v", err)
	}
}

func TestOTPService_ConcurrentVerifyHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issue, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	code := h.mailer.codeFor(t, "alice@x.com")

	const workers = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.otp.VerifyOTP(ctx, issue.TransactionToken, code, domain.PurposeLogin)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	for _, err := range failures {
		if !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("expected losers to get ErrInvalidToken, got %v", err)
		}
	}
}

func TestOTPService_DeliveryFailureIsNotReturned(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errors.New("smtp down")

	issue, err := h.otp.RequestOTP(context.Background(), "alice@x.com", domain.PurposeLogin)
	if err != nil {
		t.Fatalf("expected best-effort delivery, got %v", err)
	}
	if issue.TransactionToken == "" {
		t.Fatalf("expected transaction token despite delivery failure")
	}
}

func TestOTPService_DevModeEchoesCode(t *testing.T) {
	h := newHarness(t)
	otp := NewOTPService(testOTPSettings(), h.challenges, plainHasher{}, h.mailer, nil, nil, true)
	otp.WithClock(h.clock.Now)

	issue, err := otp.RequestOTP(context.Background(), "alice@x.com", domain.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	if issue.Code == "" || issue.Code != h.mailer.codeFor(t, "alice@x.com") {
		t.Fatalf("expected echoed code to match mailed code")
	}
	if h.mailer.last().kind != domain.MailVerifyCode {
		t.Fatalf("expected verify template, got %s", h.mailer.last().kind)
	}
}

func TestOTPService_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.otp.RequestOTP(ctx, "  ", domain.PurposeLogin); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid request for blank email, got %v", err)
	}
	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.OTPPurpose("sms")); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid request for unknown purpose, got %v", err)
	}
}

func TestOTPService_PurgeExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.otp.RequestOTP(ctx, "alice@x.com", domain.PurposeLogin); err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.otp.RequestOTP(ctx, "bob@x.com", domain.PurposeLogin); err != nil {
		t.Fatalf("RequestOTP returned error: %v", err)
	}

	purged, err := h.otp.PurgeExpired(ctx, h.clock.Now())
	if err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged challenge, got %d", purged)
	}
}
