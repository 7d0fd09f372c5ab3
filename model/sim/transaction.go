// Package sim holds the values exchanged when simulations lock each other's
// objects.
package sim

import "github.com/megastructure/coordinator/model/mpo"

// LockKind distinguishes read and write locks
type LockKind string

// Lock kinds
const (
	LockRead  LockKind = "read"
	LockWrite LockKind = "write"
)

type (
	// Effect is one change made to an object while holding a lock
	Effect struct {
		Address mpo.NetworkAddress `json:"address"`
		Kind    string             `json:"kind,omitempty"`
		Payload []byte             `json:"payload,omitempty"`
	}

	// Transaction carries the effects produced under a lock to the owner of
	// the locked objects
	Transaction struct {
		Effects []Effect `json:"effects,omitempty"`
	}
)

// IsEmpty reports whether the transaction carries no effects
func (t Transaction) IsEmpty() bool {
	return len(t.Effects) == 0
}
