// Package enrole hands out the hierarchical machine/process/owner identities
// of everything connected to the coordinator and reclaims them in bulk when a
// process or daemon goes away.
package enrole

import (
	"fmt"
	"sort"
	"sync"

	"github.com/megastructure/coordinator/metrics"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/service/allocator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const ownerWords = mpo.MaxOwners / 64

// machine holds the process and owner pools of one daemon. All mutations of
// one machine go through its mutex; different machines proceed in parallel.
// A disconnected machine is marked dead so callers that looked it up before
// the disconnect leave it alone.
type machine struct {
	mu        sync.Mutex
	dead      bool
	processes *allocator.Ring[mpo.ProcessID]
	owners    [mpo.MaxProcesses]*allocator.Ring[mpo.OwnerID]
	live      [mpo.MaxProcesses]bool
	owned     [mpo.MaxProcesses][ownerWords]uint64
}

func newMachine() *machine {
	return &machine{processes: allocator.NewRing[mpo.ProcessID](mpo.MaxProcesses)}
}

func (m *machine) isOwned(process mpo.ProcessID, owner mpo.OwnerID) bool {
	return m.owned[process][owner/64]&(1<<(owner%64)) != 0
}

func (m *machine) setOwned(process mpo.ProcessID, owner mpo.OwnerID, owned bool) {
	if owned {
		m.owned[process][owner/64] |= 1 << (owner % 64)
		return
	}
	m.owned[process][owner/64] &^= 1 << (owner % 64)
}

// Manager allocates machine, process and owner identities
type Manager struct {
	mu           sync.RWMutex
	machines     map[mpo.MachineID]*machine
	freeMachines map[mpo.MachineID]struct{}
	nextMachine  mpo.MachineID
	logger       *log.Entry
}

// Option customises a Manager
type Option func(m *Manager)

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates an empty manager
func New(options ...Option) *Manager {
	ret := &Manager{
		machines:     make(map[mpo.MachineID]*machine),
		freeMachines: make(map[mpo.MachineID]struct{}),
		logger:       log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "enrole")
	return ret
}

// NewDaemon enrols a machine, reusing the lowest disconnected id first
func (m *Manager) NewDaemon() mpo.MachineID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var id mpo.MachineID
	if len(m.freeMachines) > 0 {
		first := true
		for candidate := range m.freeMachines {
			if first || candidate < id {
				id = candidate
				first = false
			}
		}
		delete(m.freeMachines, id)
	} else {
		id = m.nextMachine
		m.nextMachine++
	}
	m.machines[id] = newMachine()
	metrics.Machines.Inc()
	m.logger.WithField("machine", id).Debug("daemon enrolled")
	return id
}

// DaemonDisconnect removes a machine with everything enrolled under it and
// returns the owners that were still allocated. An unknown machine means the
// caller's bookkeeping is broken and panics.
func (m *Manager) DaemonDisconnect(id mpo.MachineID) []mpo.MPO {
	m.mu.Lock()
	aMachine, ok := m.machines[id]
	if !ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("enrole: disconnect of unknown machine %d", id))
	}
	delete(m.machines, id)
	m.freeMachines[id] = struct{}{}
	m.mu.Unlock()

	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	aMachine.dead = true
	var released []mpo.MPO
	for _, process := range aMachine.processes.Allocated() {
		released = append(released, aMachine.releaseProcess(mpo.NewMP(id, process))...)
	}
	metrics.Machines.Dec()
	m.logger.WithFields(log.Fields{"machine": id, "owners": len(released)}).Debug("daemon disconnected")
	return released
}

// NewLeaf allocates a process slot on the machine. A machine disconnected
// concurrently yields ErrUnknownMachine.
func (m *Manager) NewLeaf(id mpo.MachineID) (mpo.MP, error) {
	return m.newLeaf(m.mustMachine(id), id)
}

func (m *Manager) newLeaf(aMachine *machine, id mpo.MachineID) (mpo.MP, error) {
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead {
		return mpo.MP{}, errors.Wrapf(ErrUnknownMachine, "machine %d disconnected", id)
	}
	process, err := aMachine.processes.Allocate()
	if err != nil {
		metrics.CapacityExceeded.WithLabelValues("process").Inc()
		return mpo.MP{}, errors.Wrapf(ErrProcessCapacity, "machine %d", id)
	}
	aMachine.live[process] = true
	if aMachine.owners[process] == nil {
		aMachine.owners[process] = allocator.NewRing[mpo.OwnerID](mpo.MaxOwners)
	}
	metrics.Processes.Inc()
	return mpo.NewMP(id, process), nil
}

// LeafDisconnected frees the process slot, clears its owner pool and returns
// every owner that was allocated under it so dependent state can be released.
func (m *Manager) LeafDisconnected(mp mpo.MP) []mpo.MPO {
	return m.leafDisconnected(m.mustMachine(mp.Machine), mp)
}

func (m *Manager) leafDisconnected(aMachine *machine, mp mpo.MP) []mpo.MPO {
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead {
		return nil
	}
	if !aMachine.live[mp.Process] {
		panic(fmt.Sprintf("enrole: disconnect of unknown process %v", mp))
	}
	released := aMachine.releaseProcess(mp)
	m.logger.WithFields(log.Fields{"mp": mp.String(), "owners": len(released)}).Debug("leaf disconnected")
	return released
}

func (m *machine) releaseProcess(mp mpo.MP) []mpo.MPO {
	owners := m.owners[mp.Process]
	var released []mpo.MPO
	if owners != nil {
		for _, owner := range owners.Allocated() {
			released = append(released, mp.MPO(owner))
		}
		owners.Reset()
	}
	m.owned[mp.Process] = [ownerWords]uint64{}
	m.live[mp.Process] = false
	m.processes.Free(mp.Process)
	metrics.Processes.Dec()
	metrics.Owners.Sub(float64(len(released)))
	return released
}

// NewOwner allocates an owner slot in the process
func (m *Manager) NewOwner(mp mpo.MP) (mpo.MPO, error) {
	return m.newOwner(m.mustMachine(mp.Machine), mp)
}

func (m *Manager) newOwner(aMachine *machine, mp mpo.MP) (mpo.MPO, error) {
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead {
		return mpo.MPO{}, errors.Wrapf(ErrUnknownMachine, "machine %d disconnected", mp.Machine)
	}
	if !aMachine.live[mp.Process] {
		panic(fmt.Sprintf("enrole: owner requested for unknown process %v", mp))
	}
	owner, err := aMachine.owners[mp.Process].Allocate()
	if err != nil {
		metrics.CapacityExceeded.WithLabelValues("owner").Inc()
		return mpo.MPO{}, errors.Wrapf(ErrOwnerCapacity, "process %v", mp)
	}
	aMachine.setOwned(mp.Process, owner, true)
	metrics.Owners.Inc()
	return mp.MPO(owner), nil
}

// Release frees a single owner
func (m *Manager) Release(value mpo.MPO) {
	m.release(m.mustMachine(value.Machine), value)
}

func (m *Manager) release(aMachine *machine, value mpo.MPO) {
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead {
		return
	}
	if !aMachine.live[value.Process] || !aMachine.isOwned(value.Process, value.Owner) {
		panic(fmt.Sprintf("enrole: release of unknown owner %v", value))
	}
	aMachine.setOwned(value.Process, value.Owner, false)
	aMachine.owners[value.Process].Free(value.Owner)
	metrics.Owners.Dec()
}

// HasMachine reports whether id is enrolled
func (m *Manager) HasMachine(id mpo.MachineID) bool {
	_, ok := m.machine(id)
	return ok
}

// HasProcess reports whether mp is enrolled
func (m *Manager) HasProcess(mp mpo.MP) bool {
	aMachine, ok := m.machine(mp.Machine)
	if !ok {
		return false
	}
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	return !aMachine.dead && aMachine.live[mp.Process]
}

// Machines returns the enrolled machines in ascending order
func (m *Manager) Machines() []mpo.MachineID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]mpo.MachineID, 0, len(m.machines))
	for id := range m.machines {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// MachineProcesses returns the processes of a machine in ascending order
func (m *Manager) MachineProcesses(id mpo.MachineID) ([]mpo.MP, error) {
	aMachine, ok := m.machine(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMachine, "machine %d", id)
	}
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead {
		return nil, errors.Wrapf(ErrUnknownMachine, "machine %d", id)
	}
	processes := aMachine.processes.Allocated()
	ret := make([]mpo.MP, 0, len(processes))
	for _, process := range processes {
		ret = append(ret, mpo.NewMP(id, process))
	}
	return ret, nil
}

// MPOs returns the owners of a process in ascending order
func (m *Manager) MPOs(mp mpo.MP) ([]mpo.MPO, error) {
	aMachine, ok := m.machine(mp.Machine)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMachine, "machine %d", mp.Machine)
	}
	aMachine.mu.Lock()
	defer aMachine.mu.Unlock()
	if aMachine.dead || !aMachine.live[mp.Process] {
		return nil, errors.Wrapf(ErrUnknownProcess, "process %v", mp)
	}
	owners := aMachine.owners[mp.Process].Allocated()
	ret := make([]mpo.MPO, 0, len(owners))
	for _, owner := range owners {
		ret = append(ret, mp.MPO(owner))
	}
	return ret, nil
}

func (m *Manager) machine(id mpo.MachineID) (*machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret, ok := m.machines[id]
	return ret, ok
}

func (m *Manager) mustMachine(id mpo.MachineID) *machine {
	ret, ok := m.machine(id)
	if !ok {
		panic(fmt.Sprintf("enrole: unknown machine %d", id))
	}
	return ret
}
