package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// ErrOverflow is returned whenever an intermediate or final value does not
// fit back into a u64. The caller fails the whole instruction; nothing wraps.
var ErrOverflow = errors.New("math overflow")

// Int128 scratch values are pooled big.Ints for the widen-multiply-divide
// steps. Lamport amounts are u64; products of two u64 need 128 bits.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulU128 performs a * b widened to 128 bits.
func MulU128(a, b uint64) *big.Int {
	result := getInt128()
	result.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return result
}

// DivToU64 performs numerator / denominator with floor semantics and
// narrows the quotient back to u64. Floor division is the rounding policy
// everywhere in the engine: payout dust is never rounded up.
func DivToU64(numerator *big.Int, denominator *big.Int) (uint64, error) {
	if denominator.Sign() == 0 {
		return 0, ErrOverflow
	}

	quotient := getInt128()
	defer putInt128(quotient)

	quotient.Div(numerator, denominator)

	if !quotient.IsUint64() {
		return 0, ErrOverflow
	}
	return quotient.Uint64(), nil
}

// AddU64 adds two u64 values with an explicit overflow check.
func AddU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}
