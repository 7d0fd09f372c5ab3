package coordinator

import "github.com/pkg/errors"

var (
	// ErrUnknownOwner is returned for requests naming an owner that is not enrolled
	ErrUnknownOwner = errors.New("coordinator: unknown owner")

	// ErrAddressNotOwned is returned when deallocating another owner's address
	ErrAddressNotOwned = errors.New("coordinator: address not owned by requester")

	// ErrNotConnected is returned by daemon calls made before Connect
	ErrNotConnected = errors.New("coordinator: daemon not connected")
)
