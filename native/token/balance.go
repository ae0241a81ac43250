package token

import (
	"fmt"

	"tokenledger/core/i128"
	"tokenledger/crypto"
)

// ReadBalance returns the balance of addr; addresses never credited hold 0.
func (s *Store) ReadBalance(addr crypto.Address) (i128.Int, error) {
	var balance i128.Int
	if _, err := s.get(BalanceKey(addr), &balance); err != nil {
		return i128.Zero, err
	}
	return balance, nil
}

// CreditBalance adds amount to the balance of addr. The caller guarantees
// amount is not negative.
func (s *Store) CreditBalance(addr crypto.Address, amount i128.Int) error {
	balance, err := s.ReadBalance(addr)
	if err != nil {
		return err
	}
	updated, err := balance.Add(amount)
	if err != nil {
		return fmt.Errorf("token: credit %s: %w", addr, err)
	}
	return s.put(BalanceKey(addr), updated)
}

// DebitBalance removes amount from the balance of addr, failing with
// ErrInsufficientFunds when the balance is smaller than amount.
func (s *Store) DebitBalance(addr crypto.Address, amount i128.Int) error {
	balance, err := s.ReadBalance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr, balance, amount)
	}
	updated, err := balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("token: debit %s: %w", addr, err)
	}
	return s.put(BalanceKey(addr), updated)
}

// ReadTotalSupply returns the recorded total supply, 0 when never set.
func (s *Store) ReadTotalSupply() (i128.Int, error) {
	var total i128.Int
	if _, err := s.get(TotalSupplyKey(), &total); err != nil {
		return i128.Zero, err
	}
	return total, nil
}

// AdjustTotalSupply adds delta to the total supply. Supply is not derived
// from balances: callers pair every mint credit and burn debit with a call
// here.
func (s *Store) AdjustTotalSupply(delta i128.Int) error {
	total, err := s.ReadTotalSupply()
	if err != nil {
		return err
	}
	updated, err := total.Add(delta)
	if err != nil {
		return fmt.Errorf("token: adjust supply: %w", err)
	}
	if updated.Sign() < 0 {
		return fmt.Errorf("%w: %s %+d", ErrNegativeSupply, total, delta.Big())
	}
	return s.put(TotalSupplyKey(), updated)
}
