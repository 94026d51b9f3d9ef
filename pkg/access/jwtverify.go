package access

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// KeySetVerifier is the default JWTVerifier: signature verification
// against a JWK set supplied by the composition root (a static file, a
// JWKS endpoint kept fresh by jwk.Cache, or a single public key).
type KeySetVerifier struct {
	KeySet jwk.Set
}

var _ JWTVerifier = (*KeySetVerifier)(nil)

// NewKeySetVerifier wraps an already-resolved key set.
func NewKeySetVerifier(keySet jwk.Set) *KeySetVerifier {
	return &KeySetVerifier{KeySet: keySet}
}

// Verify checks token's signature against the configured key set and
// returns its parsed claims. Expiry/not-before validation is enabled
// by default in jwx.
func (v *KeySetVerifier) Verify(ctx context.Context, token string) (jwt.Token, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(v.KeySet))
	if err != nil {
		return nil, fmt.Errorf("access: verify jwt: %w", err)
	}
	return tok, nil
}
