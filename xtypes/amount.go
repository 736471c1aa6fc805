// Package xtypes holds the primitive value types shared across every
// XLN layer: entity/token identifiers, the canonical bilateral account
// key, and the arbitrary-precision signed Amount used for every
// balance, credit limit and hold in the delta algebra.
package xtypes

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// Amount is an arbitrary-precision signed integer. It wraps math/big
// the way the teacher's fork-choice and block-index code does
// (consensus/fork_choice.go, node/store/db.go), never a native int64,
// so balances cannot silently overflow or saturate.
type Amount struct {
	v *big.Int
}

// ErrNegativeAmount is returned by constructors that require a
// non-negative value (collateral, holds, credit limits).
var ErrNegativeAmount = errors.New("xtypes: amount must be non-negative")

// Zero returns the additive identity.
func Zero() Amount { return Amount{v: new(big.Int)} }

// FromInt64 builds an Amount from a native int64.
func FromInt64(n int64) Amount { return Amount{v: big.NewInt(n)} }

// FromBigInt copies b into a new Amount. A nil b is treated as zero.
func FromBigInt(b *big.Int) Amount {
	if b == nil {
		return Zero()
	}
	return Amount{v: new(big.Int).Set(b)}
}

// MustNonNegative builds an Amount from a native int64 that must be
// >= 0, for call sites constructing collateral/hold/credit-limit
// fields where negative values are an invariant violation.
func MustNonNegative(n int64) (Amount, error) {
	if n < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return FromInt64(n), nil
}

func (a Amount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) Add(b Amount) Amount { return Amount{v: new(big.Int).Add(a.Big(), b.Big())} }
func (a Amount) Sub(b Amount) Amount { return Amount{v: new(big.Int).Sub(a.Big(), b.Big())} }
func (a Amount) Neg() Amount         { return Amount{v: new(big.Int).Neg(a.Big())} }
func (a Amount) Abs() Amount         { return Amount{v: new(big.Int).Abs(a.Big())} }

// Cmp mirrors big.Int.Cmp: -1 if a<b, 0 if a==b, +1 if a>b.
func (a Amount) Cmp(b Amount) int { return a.Big().Cmp(b.Big()) }

func (a Amount) IsZero() bool     { return a.Big().Sign() == 0 }
func (a Amount) IsNegative() bool { return a.Big().Sign() < 0 }
func (a Amount) IsPositive() bool { return a.Big().Sign() > 0 }

// CheckNonNegative returns ErrNegativeAmount if a is negative, for
// validating amounts parsed off the wire (tx payloads) rather than
// constructed internally.
func (a Amount) CheckNonNegative() error {
	if a.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// Min and Max are used throughout the delta algebra (§4.1
// outCapacity = max(0, ...)).
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MaxAmount0 clamps a to be at least zero, used for the
// max(0, ...) floor in capacity computations.
func MaxAmount0(a Amount) Amount { return Max(a, Zero()) }

func (a Amount) String() string { return a.Big().String() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Big().String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "xtypes: amount json")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.Errorf("xtypes: invalid amount literal %q", s)
	}
	a.v = v
	return nil
}
