package token

import "fmt"

// Metadata is the static token descriptor.
type Metadata struct {
	Name    string
	Symbol  string
	Decimal uint32
}

// WriteMetadata stores md, replacing any previous descriptor. It is meant
// to run once when the token is deployed.
func (s *Store) WriteMetadata(md Metadata) error {
	return s.put(MetadataKey(), md)
}

// ReadMetadata returns the descriptor or ErrNotSet.
func (s *Store) ReadMetadata() (Metadata, error) {
	var md Metadata
	ok, err := s.get(MetadataKey(), &md)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, fmt.Errorf("metadata: %w", ErrNotSet)
	}
	return md, nil
}

func (s *Store) ReadName() (string, error) {
	md, err := s.ReadMetadata()
	return md.Name, err
}

func (s *Store) ReadSymbol() (string, error) {
	md, err := s.ReadMetadata()
	return md.Symbol, err
}

func (s *Store) ReadDecimal() (uint32, error) {
	md, err := s.ReadMetadata()
	return md.Decimal, err
}
