package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAccessTokenExpired reports a well-formed token past its exp claim.
	ErrAccessTokenExpired = errors.New("jwt: token expired")
	// ErrAccessTokenInvalid covers every other verification failure.
	ErrAccessTokenInvalid = errors.New("jwt: token invalid")
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	DeviceID string `json:"did,omitempty"`
	FamilyID string `json:"fid,omitempty"`
	PinSetup bool   `json:"pin_setup,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures issuing and verification.
type JWTConfig struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// JWTManager signs and verifies RS256 access tokens.
type JWTManager struct {
	keys  KeyProvider
	cfg   JWTConfig
	clock func() time.Time
}

// NewJWTManager constructs a manager. clock may be nil to use time.Now.
func NewJWTManager(keys KeyProvider, cfg JWTConfig, clock func() time.Time) (*JWTManager, error) {
	if keys == nil {
		return nil, errors.New("jwt: key provider is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("jwt: issuer and audience are required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &JWTManager{keys: keys, cfg: cfg, clock: clock}, nil
}

// Sign fills issuer and audience and signs claims with the active key.
func (m *JWTManager) Sign(claims AccessClaims) (string, error) {
	kid, key, err := m.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	claims.Issuer = m.cfg.Issuer
	claims.Audience = jwt.ClaimStrings{m.cfg.Audience}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer, audience and the time claims. The
// configured clock skew is tolerated on iat, nbf and exp alike.
func (m *JWTManager) Parse(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenInvalid, err)
	}

	if claims.IssuedAt == nil || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrAccessTokenInvalid)
	}
	return claims, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid header")
	}
	return m.keys.VerificationKey(kid)
}

// JWKS renders the public verification keys as a JSON Web Key Set.
func (m *JWTManager) JWKS() ([]byte, error) {
	keys := m.keys.VerificationKeys()

	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := make([]map[string]string, 0, len(kids))
	for _, kid := range kids {
		key := keys[kid]
		set = append(set, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}
	return json.Marshal(map[string]any{"keys": set})
}
