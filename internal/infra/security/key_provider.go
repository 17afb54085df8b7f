package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrKeyNotFound = errors.New("key not found")

const ephemeralKeyID = "ephemeral"

// KeyProvider supplies the RS256 signing key and the public keys accepted for verification.
type KeyProvider interface {
	SigningKey() (kid string, key *rsa.PrivateKey, err error)
	VerificationKey(kid string) (*rsa.PublicKey, error)
	VerificationKeys() map[string]*rsa.PublicKey
}

// StaticKeyProvider holds keys in memory.
type StaticKeyProvider struct {
	signingKID string
	signingKey *rsa.PrivateKey
	public     map[string]*rsa.PublicKey
}

// NewStaticKeyProvider signs with key under kid. Extra public keys stay valid for
// verification, which lets tokens signed before a rotation keep working.
func NewStaticKeyProvider(kid string, key *rsa.PrivateKey, extra map[string]*rsa.PublicKey) (*StaticKeyProvider, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" || key == nil {
		return nil, errors.New("signing key and kid are required")
	}

	public := make(map[string]*rsa.PublicKey, len(extra)+1)
	for id, pub := range extra {
		public[id] = pub
	}
	public[kid] = &key.PublicKey

	return &StaticKeyProvider{signingKID: kid, signingKey: key, public: public}, nil
}

// SigningKey returns the active kid and private key.
func (p *StaticKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	return p.signingKID, p.signingKey, nil
}

// VerificationKey looks a public key up by kid.
func (p *StaticKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.public[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// VerificationKeys returns a copy of every public key.
func (p *StaticKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.public))
	for kid, key := range p.public {
		out[kid] = key
	}
	return out
}

// LoadKeyDirectory reads PEM files from dir. The file name without extension is the kid.
// The signing key is the private key named signingKID, or the first private key by name
// when signingKID is empty.
func LoadKeyDirectory(dir, signingKID string) (*StaticKeyProvider, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	private := make(map[string]*rsa.PrivateKey)
	public := make(map[string]*rsa.PublicKey)
	firstPrivate := ""

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(dir, file.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("decode PEM block from %s", path)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		if key := parsePrivateKey(block.Bytes); key != nil {
			private[kid] = key
			public[kid] = &key.PublicKey
			if firstPrivate == "" {
				firstPrivate = kid
			}
			continue
		}
		if key := parsePublicKey(block.Bytes); key != nil {
			public[kid] = key
			continue
		}
		return nil, fmt.Errorf("parse RSA key from %s", path)
	}

	if signingKID == "" {
		signingKID = firstPrivate
	}
	key, ok := private[signingKID]
	if !ok {
		return nil, fmt.Errorf("%w: no private signing key %q in %s", ErrKeyNotFound, signingKID, dir)
	}
	return NewStaticKeyProvider(signingKID, key, public)
}

// NewKeyProvider loads keys from dir. Outside production a missing or empty directory
// falls back to a freshly generated key, so tokens do not survive a restart.
func NewKeyProvider(env, dir, signingKID string) (KeyProvider, error) {
	provider, err := LoadKeyDirectory(dir, signingKID)
	if err == nil {
		return provider, nil
	}
	if env == "production" {
		return nil, err
	}

	key, genErr := rsa.GenerateKey(rand.Reader, 2048)
	if genErr != nil {
		return nil, fmt.Errorf("generate ephemeral signing key: %w", genErr)
	}
	return NewStaticKeyProvider(ephemeralKeyID, key, nil)
}

func parsePrivateKey(der []byte) *rsa.PrivateKey {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey
		}
	}
	return nil
}

func parsePublicKey(der []byte) *rsa.PublicKey {
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey
		}
	}
	return nil
}
