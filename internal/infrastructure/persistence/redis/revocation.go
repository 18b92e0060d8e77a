package redis

import (
	"context"
	"time"

	"github.com/studyhub/study-hub/internal/domain/identity"
)

// RevocationList stores revoked token ids until their expiry.
type RevocationList struct {
	kv  KV
	now func() time.Time
}

// NewRevocationList creates a revocation list.
func NewRevocationList(kv KV) *RevocationList {
	return &RevocationList{kv: kv, now: time.Now}
}

var _ identity.RevocationList = (*RevocationList)(nil)

// Revoke marks tokenID revoked until the token would have expired anyway.
func (r *RevocationList) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.kv.Set(ctx, RevokedKey(tokenID), "1", ttl)
}

// IsRevoked reports whether tokenID was revoked.
func (r *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return r.kv.Exists(ctx, RevokedKey(tokenID))
}
