package token

import "fmt"

const (
	// LifetimeThreshold is the remaining lifetime, in ledgers, at or below
	// which the instance region is extended.
	LifetimeThreshold uint32 = 86_400
	// BumpAmount is how far past the current ledger an extension reaches.
	BumpAmount uint32 = LifetimeThreshold * 30
)

// ExtendStorageLifetime refreshes the lifetime of the token's storage region.
// Every operation that touches token state calls it once.
func (s *Store) ExtendStorageLifetime() error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := state.ExtendInstanceTTL(LifetimeThreshold, BumpAmount); err != nil {
		return fmt.Errorf("token: extend lifetime: %w", err)
	}
	return nil
}
