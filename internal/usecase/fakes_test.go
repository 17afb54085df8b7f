package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// plainHasher keeps tests fast; the argon2 implementation has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	return "plain$" + secret, nil
}

func (plainHasher) Verify(secret, encoded string) (bool, error) {
	return encoded == "plain$"+secret, nil
}

type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepository(users ...domain.User) *fakeUserRepository {
	r := &fakeUserRepository{users: make(map[string]domain.User)}
	for _, u := range users {
		u.Email = domain.NormalizeEmail(u.Email)
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == domain.NormalizeEmail(user.Email) {
			return repository.ErrDuplicate
		}
	}
	user.Email = domain.NormalizeEmail(user.Email)
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

func (r *fakeUserRepository) mutate(id string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&user)
	r.users[id] = user
	return nil
}

func (r *fakeUserRepository) UpdateStatus(_ context.Context, id string, status domain.UserStatus, changedBy string, at time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.Status = status
		u.StatusChangedBy = &changedBy
		u.StatusChangedAt = &at
	})
}

func (r *fakeUserRepository) UpdateRole(_ context.Context, id string, role domain.Role, changedBy string, at time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.Role = role
		u.RoleChangedBy = &changedBy
		u.RoleChangedAt = &at
	})
}

func (r *fakeUserRepository) SetPIN(_ context.Context, id, pinHash string, at time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.PinHash = &pinHash
		u.PinChangedAt = &at
		u.PinFailedAttempts = 0
		u.PinLockedUntil = nil
	})
}

func (r *fakeUserRepository) RecordPINFailure(_ context.Context, id string, maxAttempts int, lockUntil time.Time) (port.PinFailure, error) {
	var failure port.PinFailure
	err := r.mutate(id, func(u *domain.User) {
		if u.PinFailedAttempts+1 >= maxAttempts {
			u.PinFailedAttempts = 0
			u.PinLockedUntil = &lockUntil
		} else {
			u.PinFailedAttempts++
		}
		failure = port.PinFailure{Attempts: u.PinFailedAttempts, LockedUntil: u.PinLockedUntil}
	})
	return failure, err
}

func (r *fakeUserRepository) ResetPINFailures(_ context.Context, id string) error {
	return r.mutate(id, func(u *domain.User) { u.PinFailedAttempts = 0 })
}

func (r *fakeUserRepository) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (r *fakeUserRepository) List(_ context.Context, filter port.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0)
	for _, u := range r.users {
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return []domain.User{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// fakeChallengeRepository reproduces the conditional updates of the SQL store.
type fakeChallengeRepository struct {
	mu         sync.Mutex
	challenges map[string]*domain.OTPChallenge
	order      []string
}

func newFakeChallengeRepository() *fakeChallengeRepository {
	return &fakeChallengeRepository{challenges: make(map[string]*domain.OTPChallenge)}
}

func (r *fakeChallengeRepository) Issue(_ context.Context, challenge domain.OTPChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.challenges {
		if existing.Email == challenge.Email && existing.Purpose == challenge.Purpose && existing.Open() {
			at := challenge.IssuedAt
			existing.SupersededAt = &at
		}
	}
	c := challenge
	r.challenges[c.ID] = &c
	r.order = append(r.order, c.ID)
	return nil
}

func (r *fakeChallengeRepository) Latest(_ context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.challenges[r.order[i]]
		if c.Email == email && c.Purpose == purpose {
			copy := *c
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeChallengeRepository) GetByTransactionHash(_ context.Context, hash string) (*domain.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.TransactionTokenHash == hash {
			copy := *c
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeChallengeRepository) DecrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || !c.Open() || c.AttemptsRemaining <= 0 {
		return 0, repository.ErrConflict
	}
	c.AttemptsRemaining--
	return c.AttemptsRemaining, nil
}

func (r *fakeChallengeRepository) Consume(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || !c.Open() {
		return repository.ErrConflict
	}
	c.ConsumedAt = &at
	return nil
}

func (r *fakeChallengeRepository) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, c := range r.challenges {
		if c.ExpiresAt.Before(before) {
			delete(r.challenges, id)
			purged++
		}
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.challenges[id]; ok {
			kept = append(kept, id)
		}
	}
	r.order = kept
	return purged, nil
}

func (r *fakeChallengeRepository) active(email string, purpose domain.OTPPurpose, at time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.challenges {
		if c.Email == email && c.Purpose == purpose && c.Active(at) {
			n++
		}
	}
	return n
}

type fakeRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newFakeRefreshTokenRepository() *fakeRefreshTokenRepository {
	return &fakeRefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *fakeRefreshTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := token
	r.tokens[t.ID] = &t
	return nil
}

func (r *fakeRefreshTokenRepository) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			copy := *t
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRefreshTokenRepository) GetByID(_ context.Context, id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		copy := *t
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRefreshTokenRepository) Revoke(_ context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.Revoked() {
		return repository.ErrConflict
	}
	t.RevokedAt = &at
	t.RevokeReason = &reason
	return nil
}

func (r *fakeRefreshTokenRepository) revokeWhere(match func(*domain.RefreshToken) bool, reason string, at time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if !t.Revoked() && match(t) {
			t.RevokedAt = &at
			t.RevokeReason = &reason
			n++
		}
	}
	return n
}

func (r *fakeRefreshTokenRepository) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.FamilyID == familyID }, reason, at), nil
}

func (r *fakeRefreshTokenRepository) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.UserID == userID }, reason, at), nil
}

func (r *fakeRefreshTokenRepository) activeInFamily(familyID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.FamilyID == familyID && !t.Revoked() {
			n++
		}
	}
	return n
}

type fakeStatusCache struct {
	mu     sync.Mutex
	states map[string]domain.AccountState
	sets   int
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{states: make(map[string]domain.AccountState)}
}

func (c *fakeStatusCache) Get(_ context.Context, userID string) (*domain.AccountState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[userID]; ok {
		return &s, nil
	}
	return nil, repository.ErrNotFound
}

func (c *fakeStatusCache) Set(_ context.Context, state domain.AccountState, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[state.UserID] = state
	c.sets++
	return nil
}

func (c *fakeStatusCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
	return nil
}

type fakeFlowTokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.FlowToken
}

func newFakeFlowTokenStore() *fakeFlowTokenStore {
	return &fakeFlowTokenStore{tokens: make(map[string]domain.FlowToken)}
}

func (s *fakeFlowTokenStore) Save(_ context.Context, tokenHash string, token domain.FlowToken, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = token
	return nil
}

func (s *fakeFlowTokenStore) Consume(_ context.Context, tokenHash string) (*domain.FlowToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.tokens, tokenHash)
	return &token, nil
}

type sentMail struct {
	to   string
	kind domain.MailKind
	data map[string]string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to string, kind domain.MailKind, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, kind: kind, data: data})
	return m.err
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

// codeFor returns the code from the most recent mail sent to email.
func (m *recordingMailer) codeFor(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].to == email {
			if code := m.sent[i].data["code"]; code != "" {
				return code
			}
		}
	}
	t.Fatalf("no code mailed to %s", email)
	return ""
}

type recordingPublisher struct {
	mu            sync.Mutex
	registered    []domain.UserRegisteredEvent
	statusChanged []domain.UserStatusChangedEvent
	roleChanged   []domain.UserRoleChangedEvent
	revoked       []domain.TokensRevokedEvent
	reuse         []domain.RefreshReuseDetectedEvent
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, e domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, e)
	return nil
}

func (p *recordingPublisher) PublishUserStatusChanged(_ context.Context, e domain.UserStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *recordingPublisher) PublishUserRoleChanged(_ context.Context, e domain.UserRoleChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleChanged = append(p.roleChanged, e)
	return nil
}

func (p *recordingPublisher) PublishTokensRevoked(_ context.Context, e domain.TokensRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, e)
	return nil
}

func (p *recordingPublisher) PublishRefreshReuseDetected(_ context.Context, e domain.RefreshReuseDetectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuse = append(p.reuse, e)
	return nil
}

func (p *recordingPublisher) reuseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reuse)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) inc(parts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[strings.Join(parts, ":")]++
}

func (m *countingMetrics) get(parts ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.Join(parts, ":")]
}

func (m *countingMetrics) OTPIssued(purpose string)             { m.inc("otp_issued", purpose) }
func (m *countingMetrics) OTPVerified(purpose, result string)   { m.inc("otp_verified", purpose, result) }
func (m *countingMetrics) LoginCompleted(method, result string) { m.inc("login", method, result) }
func (m *countingMetrics) RefreshRotated(result string)         { m.inc("rotate", result) }
func (m *countingMetrics) RefreshReuseDetected()                { m.inc("reuse") }
func (m *countingMetrics) PINLocked()                           { m.inc("pin_locked") }

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

// harness wires every service against in-memory stores sharing one clock.
type harness struct {
	clock      *testClock
	users      *fakeUserRepository
	challenges *fakeChallengeRepository
	refresh    *fakeRefreshTokenRepository
	cache      *fakeStatusCache
	flows      *fakeFlowTokenStore
	mailer     *recordingMailer
	events     *recordingPublisher
	metrics    *countingMetrics
	otp        *OTPService
	tokens     *TokenService
	sessions   *SessionService
	accounts   *AccountService
}

func testJWTSettings() config.JWTSettings {
	return config.JWTSettings{
		Issuer:          "process-manager",
		Audience:        "process-manager-api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
		StatusCacheTTL:  time.Minute,
	}
}

func testOTPSettings() config.OTPSettings {
	return config.OTPSettings{
		TTL:                  5 * time.Minute,
		MaxAttempts:          5,
		ResendInterval:       60 * time.Second,
		CodeLength:           6,
		RegistrationTokenTTL: 30 * time.Minute,
	}
}

func newHarness(t *testing.T, users ...domain.User) *harness {
	t.Helper()

	h := &harness{
		clock:      newTestClock(),
		users:      newFakeUserRepository(users...),
		challenges: newFakeChallengeRepository(),
		refresh:    newFakeRefreshTokenRepository(),
		cache:      newFakeStatusCache(),
		flows:      newFakeFlowTokenStore(),
		mailer:     &recordingMailer{},
		events:     &recordingPublisher{},
		metrics:    newCountingMetrics(),
	}

	jwtCfg := testJWTSettings()
	keys, err := security.NewStaticKeyProvider("test", signingKey(t), nil)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider: %v", err)
	}
	codec, err := security.NewJWTManager(keys, security.JWTConfig{
		Issuer:    jwtCfg.Issuer,
		Audience:  jwtCfg.Audience,
		ClockSkew: jwtCfg.ClockSkew,
	}, h.clock.Now)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	h.otp = NewOTPService(testOTPSettings(), h.challenges, plainHasher{}, h.mailer, h.metrics, nil, false)
	h.otp.WithClock(h.clock.Now)

	h.tokens = NewTokenService(jwtCfg, codec, h.refresh, h.users, h.cache, h.events, h.metrics, nil)
	h.tokens.WithClock(h.clock.Now)

	h.sessions = NewSessionService(testOTPSettings(), config.PINSettings{MaxAttempts: 5, LockDuration: 15 * time.Minute},
		h.users, h.otp, h.tokens, h.flows, plainHasher{}, h.events, h.metrics, nil)
	h.sessions.WithClock(h.clock.Now)

	h.accounts = NewAccountService(h.users, h.tokens, h.events, h.mailer, nil)
	h.accounts.WithClock(h.clock.Now)

	return h
}

func activeUser(id, email string, role domain.Role) domain.User {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.User{
		ID:            id,
		Email:         email,
		FirstName:     "Test",
		LastName:      "User",
		Role:          role,
		Status:        domain.UserStatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func withPIN(u domain.User, pin string) domain.User {
	hash, _ := plainHasher{}.Hash(pin)
	u.PinHash = &hash
	return u
}
