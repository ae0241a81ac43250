package token

import (
	"fmt"

	"tokenledger/crypto"
)

// ReadAdministrator returns the administrator address. It fails with
// ErrNotSet before WriteAdministrator has run.
func (s *Store) ReadAdministrator() (crypto.Address, error) {
	var admin crypto.Address
	ok, err := s.get(AdminKey(), &admin)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, fmt.Errorf("administrator: %w", ErrNotSet)
	}
	return admin, nil
}

// WriteAdministrator stores addr as the administrator, replacing any
// previous one.
func (s *Store) WriteAdministrator(addr crypto.Address) error {
	return s.put(AdminKey(), addr)
}

// HasAdministrator reports whether an administrator has been written.
func (s *Store) HasAdministrator() (bool, error) {
	return s.get(AdminKey(), nil)
}
