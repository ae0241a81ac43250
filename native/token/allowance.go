package token

import (
	"fmt"

	"tokenledger/core/i128"
	"tokenledger/crypto"
)

// Allowance is the amount a spender may move out of an owner's balance and
// the ledger sequence at which that authorisation lapses.
type Allowance struct {
	Amount           i128.Int
	ExpirationLedger uint32
}

// Expired reports whether the allowance has lapsed at ledger sequence seq.
func (a Allowance) Expired(seq uint32) bool {
	return a.ExpirationLedger <= seq
}

// ReadAllowance returns the effective allowance of spender over owner's
// balance. Missing entries read as {0, 0}. Lapsed entries read with a zero
// amount but keep their stored expiration; the stored record is not
// rewritten.
func (s *Store) ReadAllowance(owner, spender crypto.Address) (Allowance, error) {
	var stored Allowance
	ok, err := s.get(AllowanceKey(owner, spender), &stored)
	if err != nil {
		return Allowance{}, err
	}
	if !ok {
		return Allowance{}, nil
	}
	if stored.Expired(s.LedgerSequence()) {
		return Allowance{Amount: i128.Zero, ExpirationLedger: stored.ExpirationLedger}, nil
	}
	return stored, nil
}

// WriteAllowance replaces the allowance of spender over owner's balance.
// A positive amount must expire strictly after the current ledger; a zero
// amount revokes and may carry any expiration.
func (s *Store) WriteAllowance(owner, spender crypto.Address, amount i128.Int, expirationLedger uint32) error {
	seq := s.LedgerSequence()
	if amount.Sign() > 0 && expirationLedger <= seq {
		return fmt.Errorf("%w: expiration %d, current %d", ErrInvalidExpiration, expirationLedger, seq)
	}
	return s.put(AllowanceKey(owner, spender), Allowance{Amount: amount, ExpirationLedger: expirationLedger})
}

// SpendAllowance consumes amount from the effective allowance. The
// expiration read back by ReadAllowance is written unchanged, including for
// a lapsed entry when amount is zero.
func (s *Store) SpendAllowance(owner, spender crypto.Address, amount i128.Int) error {
	current, err := s.ReadAllowance(owner, spender)
	if err != nil {
		return err
	}
	if current.Amount.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s", ErrInsufficientAllowance, spender, current.Amount, owner, amount)
	}
	remaining, err := current.Amount.Sub(amount)
	if err != nil {
		return fmt.Errorf("token: spend allowance: %w", err)
	}
	return s.put(AllowanceKey(owner, spender), Allowance{Amount: remaining, ExpirationLedger: current.ExpirationLedger})
}
