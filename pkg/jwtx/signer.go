package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs access-token claims.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// EdDSASigner implements Signer using Ed25519.
type EdDSASigner struct {
	kid string
	key ed25519.PrivateKey
	pub ed25519.PublicKey
}

// NewEphemeralSigner generates a fresh Ed25519 keypair with a random kid.
// Keys live only for the lifetime of the process; restarting the service
// invalidates outstanding tokens, which is acceptable for short-lived
// back-office sessions.
func NewEphemeralSigner() (*EdDSASigner, *KeySet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("jwtx: generate ed25519 key: %w", err)
	}

	kid := NewJTI()
	signer := &EdDSASigner{kid: kid, key: priv, pub: pub}

	keys := NewKeySet()
	keys.Add(kid, pub)

	return signer, keys, nil
}

func (s *EdDSASigner) Alg() string { return jwt.SigningMethodEdDSA.Alg() }
func (s *EdDSASigner) KID() string { return s.kid }

// Sign turns claims into a signed JWT string with the kid header set.
func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return "", errors.New("jwtx: invalid Ed25519 private key")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}
