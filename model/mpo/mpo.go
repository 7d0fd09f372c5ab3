package mpo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxProcesses and MaxOwners bound the process slots of a machine and the
// owner slots of a process.
const (
	MaxProcesses = 256
	MaxOwners    = 256
)

type (
	// MachineID identifies one enrolled daemon.
	MachineID uint32

	// ProcessID identifies a process slot on a machine.
	ProcessID uint8

	// OwnerID identifies an owner (simulation instance) inside a process.
	OwnerID uint8

	// MP is a machine/process pair.
	MP struct {
		Machine MachineID `json:"machine" yaml:"machine"`
		Process ProcessID `json:"process" yaml:"process"`
	}

	// MPO is a machine/process/owner triple.
	MPO struct {
		Machine MachineID `json:"machine" yaml:"machine"`
		Process ProcessID `json:"process" yaml:"process"`
		Owner   OwnerID   `json:"owner" yaml:"owner"`
	}

	// NetworkAddress is a flat handle of an object; zero is never allocated.
	NetworkAddress uint64

	// TypeID identifies the type of an object allocated at a network address.
	TypeID uint32

	// TimeStamp is the logical clock value granted with a simulation lock.
	TimeStamp uint32
)

// RootTypeID marks the root object of an owner's namespace.
const RootTypeID TypeID = 1

// NewMP creates a machine/process pair
func NewMP(machine MachineID, process ProcessID) MP {
	return MP{Machine: machine, Process: process}
}

// NewMPO creates a machine/process/owner triple
func NewMPO(machine MachineID, process ProcessID, owner OwnerID) MPO {
	return MPO{Machine: machine, Process: process, Owner: owner}
}

// MPO returns the owner triple under this process
func (m MP) MPO(owner OwnerID) MPO {
	return MPO{Machine: m.Machine, Process: m.Process, Owner: owner}
}

// Compare orders pairs lexicographically
func (m MP) Compare(other MP) int {
	switch {
	case m.Machine != other.Machine:
		return cmpUint(uint64(m.Machine), uint64(other.Machine))
	default:
		return cmpUint(uint64(m.Process), uint64(other.Process))
	}
}

// Less reports whether m sorts before other
func (m MP) Less(other MP) bool { return m.Compare(other) < 0 }

func (m MP) String() string {
	return fmt.Sprintf("%d.%d", m.Machine, m.Process)
}

// MP returns the machine/process part of the triple
func (m MPO) MP() MP {
	return MP{Machine: m.Machine, Process: m.Process}
}

// Compare orders triples lexicographically
func (m MPO) Compare(other MPO) int {
	if c := m.MP().Compare(other.MP()); c != 0 {
		return c
	}
	return cmpUint(uint64(m.Owner), uint64(other.Owner))
}

// Less reports whether m sorts before other
func (m MPO) Less(other MPO) bool { return m.Compare(other) < 0 }

func (m MPO) String() string {
	return fmt.Sprintf("%d.%d.%d", m.Machine, m.Process, m.Owner)
}

// ParseMPO parses the "machine.process.owner" form produced by String
func ParseMPO(text string) (MPO, error) {
	parts := strings.Split(text, ".")
	if len(parts) != 3 {
		return MPO{}, errors.Errorf("invalid mpo %q: expected machine.process.owner", text)
	}
	machine, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return MPO{}, errors.Wrapf(err, "invalid mpo %q machine", text)
	}
	process, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return MPO{}, errors.Wrapf(err, "invalid mpo %q process", text)
	}
	owner, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return MPO{}, errors.Wrapf(err, "invalid mpo %q owner", text)
	}
	return NewMPO(MachineID(machine), ProcessID(process), OwnerID(owner)), nil
}

// SortMPOs sorts in place in ascending order
func SortMPOs(values []MPO) {
	sort.Slice(values, func(i, j int) bool { return values[i].Less(values[j]) })
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
