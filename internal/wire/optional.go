// Package wire defines the upstream binary envelope, the broker control
// protocol, and the downstream client frame shapes shared by the broker
// feed client, feed session, and session broadcaster.
package wire

import "github.com/shopspring/decimal"

// Optional wraps a value that may be absent on the wire. Absence is not
// the same as zero: a present-but-zero field overwrites state, an absent
// field never does. See Tick.Merge.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// OptDecimal is an Optional decimal.Decimal, used for money fields.
type OptDecimal = Optional[decimal.Decimal]

// OptInt64 is an Optional int64, used for timestamps and open interest.
type OptInt64 = Optional[int64]

// OptFloat64 is an Optional float64, used for Greeks and IV.
type OptFloat64 = Optional[float64]

// OptBool is an Optional bool, used for simulated bid/ask flags.
type OptBool = Optional[bool]
