package address

import "github.com/pkg/errors"

var (
	// ErrUnknownAddress is returned when looking up an address that is not allocated
	ErrUnknownAddress = errors.New("address: unknown network address")

	// ErrNoRootForOwner is returned when an owner has not published a root object
	ErrNoRootForOwner = errors.New("address: no root for owner")

	// ErrRootExists is returned when an owner allocates a second root object
	ErrRootExists = errors.New("address: owner already has a root")

	// ErrAddressSpaceExhausted is returned once the counter cannot grow
	ErrAddressSpaceExhausted = errors.New("address: address space exhausted")
)
