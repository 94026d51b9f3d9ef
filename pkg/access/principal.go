// Package access implements identity resolution, authorization,
// metering, and rate limiting for HiveMind requests (spec.md §4.1).
package access

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
	"github.com/hivemind/core/pkg/store"
)

// apiKeyPrefix distinguishes an API key from a bearer JWT on the wire.
const apiKeyPrefix = "hm_"

// apiKeyPrefixLen is how many characters after apiKeyPrefix identify
// the key row for lookup, before the secret portion that's hashed and
// compared.
const apiKeyPrefixLen = 12

// JWTVerifier validates a bearer token's signature and returns its
// parsed claims. The composition root owns key material (JWKS
// endpoint, rotation) behind this interface.
type JWTVerifier interface {
	Verify(ctx context.Context, token string) (jwt.Token, error)
}

// Resolver turns a presented credential (bearer token or API key) into
// a domain.Principal, per spec.md §4.1.
type Resolver struct {
	JWT     JWTVerifier
	ApiKeys store.ApiKeyRepo
	Now     func() time.Time
}

// NewResolver wires a Resolver. now defaults to time.Now when nil.
func NewResolver(verifier JWTVerifier, apiKeys store.ApiKeyRepo, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{JWT: verifier, ApiKeys: apiKeys, Now: now}
}

// Resolve authenticates credential — either a literal API key (the
// "hm_" prefix) or a bearer JWT — into a Principal. API-key principals
// are also metered in the same call, per spec.md §4.1's "atomically,
// in the same DB transaction that validated the key" requirement.
func (r *Resolver) Resolve(ctx context.Context, credential string) (domain.Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}

	if strings.HasPrefix(credential, apiKeyPrefix) {
		return r.resolveApiKey(ctx, credential)
	}
	return r.resolveBearer(ctx, credential)
}

func (r *Resolver) resolveApiKey(ctx context.Context, credential string) (domain.Principal, error) {
	rest := strings.TrimPrefix(credential, apiKeyPrefix)
	if len(rest) <= apiKeyPrefixLen {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}
	keyPrefix := rest[:apiKeyPrefixLen]

	key, err := r.ApiKeys.GetApiKey(ctx, keyPrefix)
	if errors.Is(err, herrors.ErrNotFound) {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("access: resolve api key: %w", err)
	}
	if !key.IsActive {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}
	if !hashMatches(credential, key.KeyHash) {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}

	now := r.Now().UTC()
	if _, err := r.ApiKeys.MeterRequest(ctx, keyPrefix, now); err != nil {
		return domain.Principal{}, fmt.Errorf("access: meter api key: %w", err)
	}

	return domain.Principal{OrgID: key.OrgID, AgentID: key.AgentID, Tier: key.Tier}, nil
}

func hashMatches(credential, storedHex string) bool {
	sum := sha256.Sum256([]byte(credential))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHex)) == 1
}

func (r *Resolver) resolveBearer(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := r.JWT.Verify(ctx, token)
	if err != nil {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}

	var orgID, agentID string
	if err := claims.Get("org_id", &orgID); err != nil || orgID == "" {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}
	if err := claims.Get("agent_id", &agentID); err != nil || agentID == "" {
		return domain.Principal{}, herrors.ErrUnauthenticated
	}

	var roles []string
	_ = claims.Get("roles", &roles) // optional claim

	tier := domain.TierFree
	var tierClaim string
	if err := claims.Get("tier", &tierClaim); err == nil && tierClaim != "" {
		tier = domain.Tier(tierClaim)
	}

	return domain.Principal{OrgID: orgID, AgentID: agentID, Tier: tier, Roles: roles}, nil
}
