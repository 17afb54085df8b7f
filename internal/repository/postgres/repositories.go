package postgres

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Users         *UserRepository
	Challenges    *ChallengeRepository
	RefreshTokens *RefreshTokenRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool pgPool) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(pool),
		Challenges:    NewChallengeRepository(pool),
		RefreshTokens: NewRefreshTokenRepository(pool),
	}
}
