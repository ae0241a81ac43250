package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// AddressPrefix is the human-readable part of a bech32 address.
type AddressPrefix string

const (
	// AccountPrefix tags externally owned accounts.
	AccountPrefix AddressPrefix = "tok"
	// ContractPrefix tags contract instances.
	ContractPrefix AddressPrefix = "tokc"
)

// AddressLength is the size of the raw address payload.
const AddressLength = 20

// Address identifies a ledger participant. It is a plain value: two addresses
// are equal iff prefix and payload match, so it can be used as a map key.
type Address struct {
	prefix AddressPrefix
	raw    [AddressLength]byte
}

// MaxPrefixLength keeps the encoded address within the 90 character bech32
// limit: prefix + separator + 32 data characters + 6 checksum characters.
const MaxPrefixLength = 90 - 1 - 32 - 6

// ValidatePrefix rejects prefixes whose bech32 text would not decode back to
// the same address.
func ValidatePrefix(prefix AddressPrefix) error {
	if len(prefix) == 0 {
		return fmt.Errorf("address prefix must not be empty")
	}
	if len(prefix) > MaxPrefixLength {
		return fmt.Errorf("address prefix %q longer than %d characters", prefix, MaxPrefixLength)
	}
	for _, c := range []byte(prefix) {
		if c < 33 || c > 126 {
			return fmt.Errorf("address prefix %q has invalid character %q", prefix, c)
		}
		if c >= 'A' && c <= 'Z' {
			return fmt.Errorf("address prefix %q must be lowercase", prefix)
		}
	}
	return nil
}

// NewAddress builds an address from a 20 byte payload.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return Address{}, err
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	addr := Address{prefix: prefix}
	copy(addr.raw[:], b)
	return addr, nil
}

// MustNewAddress is NewAddress for fixtures and constants.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.raw[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the payload is all zero bytes.
func (a Address) IsZero() bool {
	return a.raw == [AddressLength]byte{}
}

// Compare orders addresses by prefix, then payload.
func (a Address) Compare(b Address) int {
	switch {
	case a.prefix < b.prefix:
		return -1
	case a.prefix > b.prefix:
		return 1
	}
	return bytes.Compare(a.raw[:], b.raw[:])
}

// EncodeRLP stores the address in its bech32 text form.
func (a Address) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, a.String())
}

// DecodeRLP restores an address written by EncodeRLP.
func (a *Address) DecodeRLP(s *rlp.Stream) error {
	var text string
	if err := s.Decode(&text); err != nil {
		return err
	}
	if text == "" {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(text)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address of the key.
func (k *PublicKey) Address() Address {
	return MustNewAddress(AccountPrefix, crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}
