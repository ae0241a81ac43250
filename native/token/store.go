package token

import "fmt"

// State is the storage context a Store operates on: one instance storage
// region plus the ledger clock of the running operation.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ExtendInstanceTTL(threshold, bump uint32) error
	LedgerSequence() uint32
}

// Store exposes the token state primitives. It holds no data of its own and
// performs no locking; the caller serialises operations and rolls back the
// state when a method fails.
type Store struct {
	state State
}

// NewStore wraps the supplied storage context.
func NewStore(state State) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (State, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("token: state not configured")
	}
	return s.state, nil
}

func (s *Store) get(key DataKey, out interface{}) (bool, error) {
	state, err := s.withState()
	if err != nil {
		return false, err
	}
	ok, err := state.KVGet(key.Bytes(), out)
	if err != nil {
		return false, fmt.Errorf("token: load %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) put(key DataKey, value interface{}) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := state.KVPut(key.Bytes(), value); err != nil {
		return fmt.Errorf("token: persist %s: %w", key, err)
	}
	return nil
}

// LedgerSequence returns the current ledger sequence of the storage context.
func (s *Store) LedgerSequence() uint32 {
	if s == nil || s.state == nil {
		return 0
	}
	return s.state.LedgerSequence()
}
