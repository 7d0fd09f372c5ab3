package lock

import (
	"context"
	"sync"

	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/sim"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Applier applies the effects a requester produced under a lock on target
type Applier interface {
	Apply(ctx context.Context, target mpo.MPO, transaction sim.Transaction) error
}

// ApplierFunc adapts a function to Applier
type ApplierFunc func(ctx context.Context, target mpo.MPO, transaction sim.Transaction) error

// Apply calls fn
func (fn ApplierFunc) Apply(ctx context.Context, target mpo.MPO, transaction sim.Transaction) error {
	return fn(ctx, target, transaction)
}

// entry is the lock state of one target
type entry struct {
	readers map[mpo.MPO]int
	writer  mpo.MPO
	writes  int
	changed chan struct{}
}

func newEntry() *entry {
	return &entry{readers: make(map[mpo.MPO]int), changed: make(chan struct{})}
}

func (e *entry) idle() bool {
	return e.writes == 0 && len(e.readers) == 0
}

func (e *entry) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *entry) canRead(requester mpo.MPO) bool {
	return e.writes == 0 || e.writer == requester
}

func (e *entry) canWrite(requester mpo.MPO) bool {
	if e.writes > 0 {
		return e.writer == requester
	}
	for reader := range e.readers {
		if reader != requester {
			return false
		}
	}
	return true
}

// Table is the owner side lock state: many readers or one writer per target.
// Locks are reentrant per requester and a sole reader may upgrade to write.
// Every grant and release advances a logical clock.
type Table struct {
	mu      sync.Mutex
	entries map[mpo.MPO]*entry
	clock   mpo.TimeStamp
	applier Applier
	logger  *log.Entry
}

// TableOption customises a Table
type TableOption func(t *Table)

// WithApplier sets the applier receiving released transactions
func WithApplier(applier Applier) TableOption {
	return func(t *Table) {
		t.applier = applier
	}
}

// WithTableLogger sets the logger
func WithTableLogger(logger *log.Entry) TableOption {
	return func(t *Table) {
		t.logger = logger
	}
}

// NewTable creates an empty lock table
func NewTable(options ...TableOption) *Table {
	ret := &Table{
		entries: make(map[mpo.MPO]*entry),
		logger:  log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "lock-table")
	return ret
}

// Read blocks until requester holds a read lock on target or ctx is done
func (t *Table) Read(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	return t.acquire(ctx, requester, target, sim.LockRead)
}

// Write blocks until requester holds the write lock on target or ctx is done
func (t *Table) Write(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	return t.acquire(ctx, requester, target, sim.LockWrite)
}

// acquire never grants once ctx is done, so an abandoned request cannot
// take a lock nobody will release.
func (t *Table) acquire(ctx context.Context, requester, target mpo.MPO, kind sim.LockKind) (mpo.TimeStamp, error) {
	for {
		t.mu.Lock()
		anEntry, ok := t.entries[target]
		if !ok {
			anEntry = newEntry()
			t.entries[target] = anEntry
		}
		if err := ctx.Err(); err != nil {
			if anEntry.idle() {
				delete(t.entries, target)
			}
			t.mu.Unlock()
			return 0, errors.Wrapf(err, "%v lock on %v for %v", kind, target, requester)
		}
		if kind == sim.LockRead && anEntry.canRead(requester) {
			if anEntry.writes > 0 {
				anEntry.writes++
			} else {
				anEntry.readers[requester]++
			}
			return t.grant(anEntry), nil
		}
		if kind == sim.LockWrite && anEntry.canWrite(requester) {
			anEntry.writer = requester
			anEntry.writes += 1 + anEntry.readers[requester]
			delete(anEntry.readers, requester)
			return t.grant(anEntry), nil
		}
		changed := anEntry.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
		}
	}
}

// grant advances the clock and unlocks t
func (t *Table) grant(anEntry *entry) mpo.TimeStamp {
	t.clock++
	stamp := t.clock
	anEntry.notify()
	t.mu.Unlock()
	return stamp
}

// Release drops one hold of requester on target and applies transaction.
// Effects are applied before waiters are woken.
func (t *Table) Release(ctx context.Context, requester, target mpo.MPO, transaction sim.Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	anEntry, ok := t.entries[target]
	if !ok {
		return errors.Wrapf(ErrNotHeld, "%v on %v", requester, target)
	}
	switch {
	case anEntry.writes > 0 && anEntry.writer == requester:
		if t.applier != nil && !transaction.IsEmpty() {
			if err := t.applier.Apply(ctx, target, transaction); err != nil {
				return errors.Wrapf(err, "failed to apply %d effects on %v", len(transaction.Effects), target)
			}
		}
		anEntry.writes--
	case anEntry.readers[requester] > 0:
		if !transaction.IsEmpty() {
			t.logger.WithFields(log.Fields{"requester": requester.String(), "target": target.String()}).Warn("ignoring effects released under a read lock")
		}
		anEntry.readers[requester]--
		if anEntry.readers[requester] == 0 {
			delete(anEntry.readers, requester)
		}
	default:
		return errors.Wrapf(ErrNotHeld, "%v on %v", requester, target)
	}
	t.clock++
	t.settle(target, anEntry)
	return nil
}

// ReleaseAll drops every hold of requester without applying anything and
// returns the targets it held
func (t *Table) ReleaseAll(requester mpo.MPO) []mpo.MPO {
	t.mu.Lock()
	defer t.mu.Unlock()
	var released []mpo.MPO
	for target, anEntry := range t.entries {
		held := false
		if anEntry.writes > 0 && anEntry.writer == requester {
			anEntry.writes = 0
			anEntry.writer = mpo.MPO{}
			held = true
		}
		if anEntry.readers[requester] > 0 {
			delete(anEntry.readers, requester)
			held = true
		}
		if held {
			released = append(released, target)
			t.settle(target, anEntry)
		}
	}
	if len(released) > 0 {
		t.clock++
		mpo.SortMPOs(released)
		t.logger.WithFields(log.Fields{"requester": requester.String(), "targets": len(released)}).Debug("released all locks")
	}
	return released
}

func (t *Table) settle(target mpo.MPO, anEntry *entry) {
	if anEntry.writes == 0 {
		anEntry.writer = mpo.MPO{}
	}
	anEntry.notify()
	if anEntry.idle() {
		delete(t.entries, target)
	}
}

// Clock returns the current logical time
func (t *Table) Clock() mpo.TimeStamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock
}

// Held reports the readers and writer of target
func (t *Table) Held(target mpo.MPO) (readers []mpo.MPO, writer *mpo.MPO) {
	t.mu.Lock()
	defer t.mu.Unlock()
	anEntry, ok := t.entries[target]
	if !ok {
		return nil, nil
	}
	for reader := range anEntry.readers {
		readers = append(readers, reader)
	}
	mpo.SortMPOs(readers)
	if anEntry.writes > 0 {
		w := anEntry.writer
		writer = &w
	}
	return readers, writer
}
