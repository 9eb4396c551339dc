// Package credentials resolves a user's decrypted exchange API key pair
// from the store, satisfying the CredentialSource interfaces declared
// independently by internal/botmanager, internal/monitor, and
// internal/health.
package credentials

import (
	"context"
	"fmt"

	"gridcore/internal/config"
	"gridcore/internal/exchange"
	"gridcore/internal/store"
)

// Resolver decrypts a User's sealed API key pair on demand.
type Resolver struct {
	store  store.Store
	sealer *config.Sealer
}

func NewResolver(st store.Store, sealer *config.Sealer) *Resolver {
	return &Resolver{store: st, sealer: sealer}
}

// Resolve loads the user and opens its sealed credentials.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (exchange.Credentials, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("get user: %w", err)
	}
	if !user.HasCredentials() {
		return exchange.Credentials{}, fmt.Errorf("user %d has no exchange credentials", userID)
	}

	apiKey, err := r.sealer.Open(user.APIKey)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("open api key: %w", err)
	}
	apiSecret, err := r.sealer.Open(user.APISecret)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("open api secret: %w", err)
	}
	return exchange.Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}

// Seal encrypts a freshly-submitted API key pair for storage on a User.
func Seal(sealer *config.Sealer, apiKey, apiSecret string) (sealedKey, sealedSecret string, err error) {
	sealedKey, err = sealer.Seal(apiKey)
	if err != nil {
		return "", "", fmt.Errorf("seal api key: %w", err)
	}
	sealedSecret, err = sealer.Seal(apiSecret)
	if err != nil {
		return "", "", fmt.Errorf("seal api secret: %w", err)
	}
	return sealedKey, sealedSecret, nil
}
