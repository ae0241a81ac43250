// Package i128 implements the signed 128-bit amounts used for balances,
// supply and allowances. Values are held as two's complement uint256 words so
// intermediate sums of two in-range operands can never wrap; every result is
// range-checked before it is returned.
package i128

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// ByteLength is the size of the fixed-width big-endian encoding.
const ByteLength = 16

// ErrOverflow reports a result outside the signed 128-bit range.
var ErrOverflow = errors.New("i128: arithmetic overflow")

var (
	maxWord = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 127), uint256.NewInt(1))
	minWord = new(uint256.Int).Neg(new(uint256.Int).Lsh(uint256.NewInt(1), 127))

	// MaxInt128 is 2^127 - 1.
	MaxInt128 = Int{w: *maxWord}
	// MinInt128 is -2^127.
	MinInt128 = Int{w: *minWord}
	// Zero is the additive identity.
	Zero = Int{}
)

// Int is a signed 128-bit integer. The zero value is 0 and values compare
// with ==.
type Int struct {
	w uint256.Int
}

// New converts an int64.
func New(v int64) Int {
	var out Int
	if v < 0 {
		// uint64(-v) is the magnitude even for math.MinInt64.
		out.w.SetUint64(uint64(-v))
		out.w.Neg(&out.w)
		return out
	}
	out.w.SetUint64(uint64(v))
	return out
}

// FromBig converts a big.Int, failing when it does not fit in 128 bits.
func FromBig(v *big.Int) (Int, error) {
	if v == nil {
		return Zero, nil
	}
	if v.BitLen() > 128 {
		return Zero, fmt.Errorf("%w: %s", ErrOverflow, v)
	}
	var out Int
	out.w.SetFromBig(v)
	if !inRange(&out.w) {
		return Zero, fmt.Errorf("%w: %s", ErrOverflow, v)
	}
	return out, nil
}

// MustFromString parses a base-10 literal; intended for constants and tests.
func MustFromString(s string) Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("i128: invalid literal %q", s))
	}
	out, err := FromBig(v)
	if err != nil {
		panic(err)
	}
	return out
}

func inRange(w *uint256.Int) bool {
	return !w.Sgt(maxWord) && !w.Slt(minWord)
}

// Add returns a+b or ErrOverflow.
func (a Int) Add(b Int) (Int, error) {
	var out Int
	out.w.Add(&a.w, &b.w)
	if !inRange(&out.w) {
		return Zero, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return out, nil
}

// Sub returns a-b or ErrOverflow.
func (a Int) Sub(b Int) (Int, error) {
	var out Int
	out.w.Sub(&a.w, &b.w)
	if !inRange(&out.w) {
		return Zero, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return out, nil
}

// Cmp compares as signed integers.
func (a Int) Cmp(b Int) int {
	switch {
	case a.w.Slt(&b.w):
		return -1
	case a.w.Sgt(&b.w):
		return 1
	}
	return 0
}

// Sign returns -1, 0 or +1.
func (a Int) Sign() int {
	return a.w.Sign()
}

// IsZero reports whether a is 0.
func (a Int) IsZero() bool {
	return a.w.IsZero()
}

// Big returns a as a new big.Int.
func (a Int) Big() *big.Int {
	if a.w.Sign() < 0 {
		var mag uint256.Int
		mag.Neg(&a.w)
		return new(big.Int).Neg(mag.ToBig())
	}
	return a.w.ToBig()
}

func (a Int) String() string {
	return a.Big().String()
}

// Bytes16 returns the two's complement big-endian encoding.
func (a Int) Bytes16() [ByteLength]byte {
	var out [ByteLength]byte
	full := a.w.Bytes32()
	copy(out[:], full[32-ByteLength:])
	return out
}

// FromBytes16 decodes the output of Bytes16.
func FromBytes16(b []byte) (Int, error) {
	if len(b) != ByteLength {
		return Zero, fmt.Errorf("i128: expected %d bytes, got %d", ByteLength, len(b))
	}
	var full [32]byte
	if b[0]&0x80 != 0 {
		for i := 0; i < 32-ByteLength; i++ {
			full[i] = 0xff
		}
	}
	copy(full[32-ByteLength:], b)
	var out Int
	out.w.SetBytes32(full[:])
	return out, nil
}

// EncodeRLP writes the fixed 16 byte form so negative values survive
// encoding.
func (a Int) EncodeRLP(w io.Writer) error {
	b := a.Bytes16()
	return rlp.Encode(w, b[:])
}

// DecodeRLP reads a value written by EncodeRLP.
func (a *Int) DecodeRLP(s *rlp.Stream) error {
	raw, err := s.Bytes()
	if err != nil {
		return err
	}
	decoded, err := FromBytes16(raw)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}
