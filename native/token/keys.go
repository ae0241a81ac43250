package token

import (
	"fmt"

	"tokenledger/crypto"
)

const keyPrefix = "token"

// KeyKind discriminates the variants of DataKey.
type KeyKind uint8

const (
	KeyAdmin KeyKind = iota + 1
	KeyMetadata
	KeyBalance
	KeyAllowance
	KeyTotalSupply
)

func (k KeyKind) String() string {
	switch k {
	case KeyAdmin:
		return "admin"
	case KeyMetadata:
		return "metadata"
	case KeyBalance:
		return "balance"
	case KeyAllowance:
		return "allowance"
	case KeyTotalSupply:
		return "supply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DataKey addresses one entry of the token state. Keys are compared
// structurally with ==; address fields not used by a kind stay zero.
type DataKey struct {
	Kind    KeyKind
	Owner   crypto.Address
	Spender crypto.Address
}

func AdminKey() DataKey       { return DataKey{Kind: KeyAdmin} }
func MetadataKey() DataKey    { return DataKey{Kind: KeyMetadata} }
func TotalSupplyKey() DataKey { return DataKey{Kind: KeyTotalSupply} }

// BalanceKey addresses the balance of addr.
func BalanceKey(addr crypto.Address) DataKey {
	return DataKey{Kind: KeyBalance, Owner: addr}
}

// AllowanceKey addresses the amount spender may move out of owner's balance.
func AllowanceKey(owner, spender crypto.Address) DataKey {
	return DataKey{Kind: KeyAllowance, Owner: owner, Spender: spender}
}

// Bytes returns the storage path of the key.
func (k DataKey) Bytes() []byte {
	return []byte(k.String())
}

func (k DataKey) String() string {
	switch k.Kind {
	case KeyBalance:
		return fmt.Sprintf("%s/%s/%s", keyPrefix, k.Kind, k.Owner)
	case KeyAllowance:
		return fmt.Sprintf("%s/%s/%s/%s", keyPrefix, k.Kind, k.Owner, k.Spender)
	default:
		return fmt.Sprintf("%s/%s", keyPrefix, k.Kind)
	}
}
