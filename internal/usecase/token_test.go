package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

func issueFor(t *testing.T, h *harness, user domain.User) *domain.TokenPair {
	t.Helper()
	pair, err := h.tokens.IssuePair(context.Background(), IssueRequest{
		UserID:   user.ID,
		Role:     user.Role,
		Status:   user.Status,
		DeviceID: "device-1",
	})
	if err != nil {
		t.Fatalf("IssuePair returned error: %v", err)
	}
	return pair
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleManager)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if pair.TokenType != "Bearer" || pair.RefreshToken == "" || pair.FamilyID == "" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if want := h.clock.Now().Add(15 * time.Minute); !pair.AccessExpiresAt.Equal(want) {
		t.Fatalf("expected access expiry %v, got %v", want, pair.AccessExpiresAt)
	}

	identity, err := h.tokens.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess returned error: %v", err)
	}
	if identity.UserID != "user-1" || identity.Role != domain.RoleManager || identity.Status != domain.UserStatusActive {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.DeviceID != "device-1" || identity.FamilyID != pair.FamilyID || identity.TokenID == "" {
		t.Fatalf("identity missing session claims: %+v", identity)
	}
	if identity.PinSetupRequired {
		t.Fatalf("expected unrestricted token")
	}
	if h.cache.sets != 1 {
		t.Fatalf("expected status cache to be populated once, got %d", h.cache.sets)
	}

	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("second VerifyAccess returned error: %v", err)
	}
	if h.cache.sets != 1 {
		t.Fatalf("expected cache hit on second verification")
	}
}

func TestTokenService_VerifyAccessRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.tokens.VerifyAccess(ctx, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty token, got %v", err)
	}
	if _, err := h.tokens.VerifyAccess(ctx, "not.a.jwt"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenService_AccessTokenExpiry(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)

	h.clock.Advance(15*time.Minute + 10*time.Second)
	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("expected token to be accepted within clock skew, got %v", err)
	}

	h.clock.Advance(time.Minute)
	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenService_StatusChangeInvalidatesAccess(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccess returned error: %v", err)
	}

	if err := h.users.UpdateStatus(ctx, user.ID, domain.UserStatusInactive, "admin-1", h.clock.Now()); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	// the cached state is honoured until it is invalidated or expires
	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("expected cached state to be used, got %v", err)
	}

	h.tokens.InvalidateState(ctx, user.ID)
	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestTokenService_RoleChangeInvalidatesAccess(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleManager)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if err := h.users.UpdateRole(ctx, user.ID, domain.RoleUser, "admin-1", h.clock.Now()); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}

	if _, err := h.tokens.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after role change, got %v", err)
	}
}

func TestTokenService_RotateKeepsFamily(t *testing.T) {
	user := withPIN(activeUser("user-1", "alice@x.com", domain.RoleUser), "482915")
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	h.clock.Advance(time.Minute)

	next, err := h.tokens.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if next.FamilyID != pair.FamilyID {
		t.Fatalf("expected family %s, got %s", pair.FamilyID, next.FamilyID)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatalf("expected fresh credentials")
	}

	record, err := h.refresh.GetByID(ctx, next.RefreshTokenID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.ParentID == nil || *record.ParentID != pair.RefreshTokenID {
		t.Fatalf("expected successor to point at its parent")
	}
	if record.DeviceID != "device-1" {
		t.Fatalf("expected device to carry over, got %q", record.DeviceID)
	}
	if h.metrics.get("rotate", "success") != 1 {
		t.Fatalf("expected rotation metric")
	}
}

func TestTokenService_ReuseRevokesFamily(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	next, err := h.tokens.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}

	if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}
	if _, err := h.tokens.Rotate(ctx, next.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected successor to be revoked with its family, got %v", err)
	}
	if n := h.refresh.activeInFamily(pair.FamilyID); n != 0 {
		t.Fatalf("expected dead family, %d tokens still active", n)
	}
	if h.events.reuseCount() == 0 || h.metrics.get("reuse") == 0 {
		t.Fatalf("expected reuse to be reported")
	}
}

func TestTokenService_ConcurrentRotateHasOneWinner(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.tokens.Rotate(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case !errors.Is(err, domain.ErrInvalidToken):
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if n := h.refresh.activeInFamily(pair.FamilyID); n != 0 {
		t.Fatalf("expected family to be dead after contested rotation, %d active", n)
	}
}

func TestTokenService_RotateExpiredAndUnknown(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	if _, err := h.tokens.Rotate(ctx, "unknown"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown token, got %v", err)
	}

	pair := issueFor(t, h, user)
	h.clock.Advance(8 * 24 * time.Hour)
	if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenService_RotateGatesStatus(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if err := h.users.UpdateStatus(ctx, user.ID, domain.UserStatusRejected, "admin-1", h.clock.Now()); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrAccountRejected) {
		t.Fatalf("expected ErrAccountRejected, got %v", err)
	}
}

func TestTokenService_RevokeAllStopsRotation(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	first := issueFor(t, h, user)
	second := issueFor(t, h, user)

	count, err := h.tokens.RevokeAll(ctx, user.ID, domain.RevokeReasonLogoutAll)
	if err != nil {
		t.Fatalf("RevokeAll returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revoked tokens, got %d", count)
	}
	if len(h.events.revoked) != 1 || h.events.revoked[0].Count != 2 {
		t.Fatalf("expected one tokens revoked event, got %+v", h.events.revoked)
	}

	for _, pair := range []*domain.TokenPair{first, second} {
		if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken after RevokeAll, got %v", err)
		}
	}
}

func TestTokenService_RevokeByToken(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if err := h.tokens.RevokeByToken(ctx, pair.RefreshToken, domain.RevokeReasonLogout); err != nil {
		t.Fatalf("RevokeByToken returned error: %v", err)
	}
	if err := h.tokens.RevokeByToken(ctx, pair.RefreshToken, domain.RevokeReasonLogout); err != nil {
		t.Fatalf("second RevokeByToken should be a no-op, got %v", err)
	}
	if err := h.tokens.RevokeByToken(ctx, "unknown", domain.RevokeReasonLogout); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	record, err := h.refresh.GetByID(ctx, pair.RefreshTokenID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.RevokeReason == nil || *record.RevokeReason != domain.RevokeReasonLogout {
		t.Fatalf("expected logout reason, got %v", record.RevokeReason)
	}
}

func TestTokenService_LoggedOutTokenIsRefusedQuietly(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if err := h.sessions.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}

	if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if h.events.reuseCount() != 0 || h.metrics.get("reuse") != 0 {
		t.Fatalf("a logged out token must not be reported as reuse")
	}
	if n := h.refresh.activeInFamily(pair.FamilyID); n != 0 {
		t.Fatalf("expected family to stay revoked, %d tokens active", n)
	}
}

func TestTokenService_RevokedAfterStatusChangeIsRefusedQuietly(t *testing.T) {
	user := activeUser("user-1", "alice@x.com", domain.RoleUser)
	h := newHarness(t, user)
	ctx := context.Background()

	pair := issueFor(t, h, user)
	if _, err := h.tokens.RevokeAll(ctx, user.ID, domain.RevokeReasonStatusChange); err != nil {
		t.Fatalf("RevokeAll returned error: %v", err)
	}
	if _, err := h.tokens.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if h.events.reuseCount() != 0 {
		t.Fatalf("expected no reuse event, got %d", h.events.reuseCount())
	}
}
