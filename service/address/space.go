// Package address maps flat network addresses onto the owner that created
// the object behind them.
package address

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/megastructure/coordinator/metrics"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Space allocates network addresses. Addresses start at 1, zero is never
// handed out. Freed addresses are reused oldest first so a stale reference
// still in flight is unlikely to resolve to a new object.
type Space struct {
	mu      sync.RWMutex
	next    mpo.NetworkAddress
	free    []mpo.NetworkAddress
	owners  map[mpo.NetworkAddress]mpo.MPO
	owned   map[mpo.MPO]map[mpo.NetworkAddress]struct{}
	roots   map[mpo.MPO]mpo.NetworkAddress
	rootOf  map[mpo.NetworkAddress]mpo.MPO
	logger  *log.Entry
	maxAddr mpo.NetworkAddress
}

// Option customises a Space
type Option func(s *Space)

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(s *Space) {
		s.logger = logger
	}
}

// WithLimit caps the highest address the counter may reach
func WithLimit(limit mpo.NetworkAddress) Option {
	return func(s *Space) {
		s.maxAddr = limit
	}
}

// New creates an empty address space
func New(options ...Option) *Space {
	ret := &Space{
		next:    1,
		owners:  make(map[mpo.NetworkAddress]mpo.MPO),
		owned:   make(map[mpo.MPO]map[mpo.NetworkAddress]struct{}),
		roots:   make(map[mpo.MPO]mpo.NetworkAddress),
		rootOf:  make(map[mpo.NetworkAddress]mpo.MPO),
		logger:  log.NewEntry(log.StandardLogger()),
		maxAddr: math.MaxUint64,
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "address")
	return ret
}

// Allocate hands out an address owned by owner. Allocating the root type
// also publishes the address as the owner's root.
func (s *Space) Allocate(owner mpo.MPO, typeID mpo.TypeID) (mpo.NetworkAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	isRoot := typeID == mpo.RootTypeID
	if isRoot {
		if existing, ok := s.roots[owner]; ok {
			return 0, errors.Wrapf(ErrRootExists, "owner %v root %d", owner, existing)
		}
	}
	var addr mpo.NetworkAddress
	if len(s.free) > 0 {
		addr = s.free[0]
		s.free = s.free[1:]
	} else {
		if s.next == 0 || s.next > s.maxAddr {
			metrics.CapacityExceeded.WithLabelValues("address").Inc()
			return 0, ErrAddressSpaceExhausted
		}
		addr = s.next
		s.next++
		metrics.NetworkAddressCapacity.Set(float64(addr))
	}
	s.owners[addr] = owner
	addresses, ok := s.owned[owner]
	if !ok {
		addresses = make(map[mpo.NetworkAddress]struct{})
		s.owned[owner] = addresses
	}
	addresses[addr] = struct{}{}
	if isRoot {
		s.roots[owner] = addr
		s.rootOf[addr] = owner
		s.logger.WithFields(log.Fields{"owner": owner.String(), "address": addr}).Debug("root published")
	}
	metrics.NetworkAddresses.Inc()
	return addr, nil
}

// Deallocate frees an address. The address must be owned by owner; anything
// else means the caller lost track of its objects and panics.
func (s *Space) Deallocate(owner mpo.MPO, addr mpo.NetworkAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.owners[addr]
	if !ok || current != owner {
		panic(fmt.Sprintf("address: %v deallocating %d not owned by it", owner, addr))
	}
	s.release(owner, addr)
}

func (s *Space) release(owner mpo.MPO, addr mpo.NetworkAddress) {
	delete(s.owners, addr)
	if addresses := s.owned[owner]; addresses != nil {
		delete(addresses, addr)
		if len(addresses) == 0 {
			delete(s.owned, owner)
		}
	}
	if root, ok := s.rootOf[addr]; ok {
		delete(s.rootOf, addr)
		delete(s.roots, root)
	}
	s.free = append(s.free, addr)
	metrics.NetworkAddresses.Dec()
}

// ReleaseOwner frees every address held by owner and returns them ascending
func (s *Space) ReleaseOwner(owner mpo.MPO) []mpo.NetworkAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := sortedAddresses(s.owned[owner])
	for _, addr := range ret {
		s.release(owner, addr)
	}
	return ret
}

// MPO returns the owner of addr
func (s *Space) MPO(addr mpo.NetworkAddress) (mpo.MPO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[addr]
	if !ok {
		return mpo.MPO{}, errors.Wrapf(ErrUnknownAddress, "address %d", addr)
	}
	return owner, nil
}

// RootAddress returns the root object address of owner
func (s *Space) RootAddress(owner mpo.MPO) (mpo.NetworkAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.roots[owner]
	if !ok {
		return 0, errors.Wrapf(ErrNoRootForOwner, "owner %v", owner)
	}
	return addr, nil
}

// Owned returns the addresses held by owner, ascending
func (s *Space) Owned(owner mpo.MPO) []mpo.NetworkAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAddresses(s.owned[owner])
}

// Capacity returns the highest address handed out so far
func (s *Space) Capacity() mpo.NetworkAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next - 1
}

// Len returns the number of allocated addresses
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners)
}

func sortedAddresses(set map[mpo.NetworkAddress]struct{}) []mpo.NetworkAddress {
	ret := make([]mpo.NetworkAddress, 0, len(set))
	for addr := range set {
		ret = append(ret, addr)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}
