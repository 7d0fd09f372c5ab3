package enrole

import "github.com/pkg/errors"

var (
	// ErrProcessCapacity is returned when a machine has no free process slot.
	ErrProcessCapacity = errors.New("enrole: process capacity exceeded")

	// ErrOwnerCapacity is returned when a process has no free owner slot.
	ErrOwnerCapacity = errors.New("enrole: owner capacity exceeded")

	// ErrUnknownMachine is returned by reporting queries for a machine that is
	// not enrolled.  Mutations panic instead.
	ErrUnknownMachine = errors.New("enrole: unknown machine")

	// ErrUnknownProcess is returned by reporting queries for a process that is
	// not enrolled.
	ErrUnknownProcess = errors.New("enrole: unknown process")
)
