package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tokenledger/config"
	"tokenledger/crypto"
	"tokenledger/native/token"
)

// ErrAlreadyDeployed indicates the instance already has an administrator.
var ErrAlreadyDeployed = errors.New("deploy: token already initialised")

// Deploy writes the administrator and metadata of a fresh token instance and
// opens its storage lifetime. It refuses to run twice against the same state.
func Deploy(ctx context.Context, h *Host, cfg config.TokenConfig) (crypto.Address, error) {
	if h == nil {
		return crypto.Address{}, fmt.Errorf("deploy: nil host")
	}
	admin, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Admin))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("deploy: admin: %w", err)
	}
	if cfg.Decimal > config.MaxDecimal {
		return crypto.Address{}, fmt.Errorf("deploy: decimal %d exceeds %d", cfg.Decimal, config.MaxDecimal)
	}
	metadata := token.Metadata{
		Name:    strings.TrimSpace(cfg.Name),
		Symbol:  strings.TrimSpace(cfg.Symbol),
		Decimal: cfg.Decimal,
	}

	err = h.Invoke(ctx, "deploy", func(store *token.Store) error {
		exists, err := store.HasAdministrator()
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyDeployed
		}
		if err := store.WriteAdministrator(admin); err != nil {
			return err
		}
		if err := store.WriteMetadata(metadata); err != nil {
			return err
		}
		return store.ExtendStorageLifetime()
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return admin, nil
}
